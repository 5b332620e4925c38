package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/md-rashed-zaman/medbook/libs/grpcx"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/fulfillment"
)

func main() {
	var (
		addr      = flag.String("addr", getenv("BOOKING_GRPC_ADDR", "localhost:9093"), "booking service gRPC address")
		bookingID = flag.String("booking-id", getenv("BOOKING_ID", ""), "booking to mark completed")
		timeout   = flag.Duration("timeout", 5*time.Second, "call timeout")
	)
	flag.Parse()

	if strings.TrimSpace(*bookingID) == "" {
		fatal("BOOKING_ID is required")
	}

	conn, err := grpcx.NewClient(*addr, grpcx.DialOptions{})
	if err != nil {
		fatal(err.Error())
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = grpcx.WithRequestID(ctx, grpcx.NewRequestID())

	out, err := fulfillment.NewClient(conn).CompleteBooking(ctx, *bookingID)
	if err != nil {
		st := status.Convert(err)
		fatal(fmt.Sprintf("%s: %s", st.Code(), st.Message()))
	}
	fmt.Println(protojson.Format(out))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

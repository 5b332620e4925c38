package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url")
		evtType  = flag.String("type", getenv("STRIPE_EVENT_TYPE", "payment_intent.succeeded"), "stripe event type")
		intentID = flag.String("order-id", getenv("ORDER_ID", ""), "payment intent id returned by order creation (pi_...)")
		booking  = flag.String("booking-id", getenv("BOOKING_ID", ""), "booking_id metadata")
		charge   = flag.String("charge-id", getenv("CHARGE_ID", ""), "latest charge id (defaults to a generated ch_ id)")
		secret   = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
		eventID  = flag.String("event-id", "", "reuse an event id to exercise replay handling")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*intentID) == "" {
		fatal("ORDER_ID is required")
	}

	now := time.Now().UTC()
	if *eventID == "" {
		*eventID = fmt.Sprintf("evt_test_%d", now.UnixNano())
	}
	if *charge == "" {
		*charge = fmt.Sprintf("ch_test_%d", now.UnixNano())
	}

	payload, err := buildEventJSON(*eventID, *evtType, now, *intentID, *booking, *charge)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/payments/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("event=%s status=%d body=%s\n", *eventID, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, intentID, bookingID, chargeID string) ([]byte, error) {
	intent := map[string]any{
		"id":       intentID,
		"object":   "payment_intent",
		"metadata": map[string]any{"booking_id": bookingID},
	}
	switch eventType {
	case "payment_intent.succeeded":
		intent["status"] = "succeeded"
		intent["latest_charge"] = chargeID
	case "payment_intent.payment_failed":
		intent["status"] = "requires_payment_method"
		intent["last_payment_error"] = map[string]any{"code": "card_declined", "message": "Your card was declined."}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": intent},
	})
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

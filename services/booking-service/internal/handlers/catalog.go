package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

type feesResponse struct {
	InClinic int64 `json:"in_clinic"`
	Video    int64 `json:"video"`
	Chat     int64 `json:"chat"`
}

type experienceResponse struct {
	Position string `json:"position"`
	Hospital string `json:"hospital"`
	Duration string `json:"duration"`
}

type doctorSummary struct {
	DoctorID        string       `json:"doctor_id"`
	Name            string       `json:"name"`
	Specialization  string       `json:"specialization"`
	ExperienceYears int          `json:"experience_years"`
	Rating          float64      `json:"rating"`
	Languages       []string     `json:"languages"`
	Fees            feesResponse `json:"fees"`
	Image           string       `json:"image,omitempty"`
	Location        string       `json:"location,omitempty"`
}

type doctorProfile struct {
	doctorSummary
	Followers       int                  `json:"followers"`
	About           string               `json:"about,omitempty"`
	Gender          string               `json:"gender,omitempty"`
	Specializations []string             `json:"specializations"`
	ConcernsTreated []string             `json:"concerns_treated"`
	WorkExperience  []experienceResponse `json:"work_experience"`
}

type slotItem struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type slotsResponse struct {
	DoctorID string     `json:"doctor_id"`
	Date     string     `json:"date"`
	Slots    []slotItem `json:"slots"`
}

func summarize(p model.Provider) doctorSummary {
	return doctorSummary{
		DoctorID:        p.ID,
		Name:            p.Name,
		Specialization:  p.Specialization,
		ExperienceYears: p.ExperienceYears,
		Rating:          p.Rating,
		Languages:       nonNil(p.Languages),
		Fees:            feesResponse{InClinic: p.Fees.InClinic, Video: p.Fees.Video, Chat: p.Fees.Chat},
		Image:           p.Image,
		Location:        p.Location,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func (h *Handler) Doctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providers, err := h.catalog.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]doctorSummary, 0, len(providers))
	for _, p := range providers {
		items = append(items, summarize(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": items})
}

func (h *Handler) DoctorProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if _, err := uuid.Parse(doctorID); err != nil {
		http.Error(w, "doctor_id required", http.StatusBadRequest)
		return
	}
	p, err := h.catalog.Get(r.Context(), doctorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := doctorProfile{
		doctorSummary:   summarize(p),
		Followers:       p.Followers,
		About:           p.About,
		Gender:          p.Gender,
		Specializations: nonNil(p.Specializations),
		ConcernsTreated: nonNil(p.ConcernsTreated),
		WorkExperience:  make([]experienceResponse, 0, len(p.WorkExperience)),
	}
	for _, e := range p.WorkExperience {
		resp.WorkExperience = append(resp.WorkExperience, experienceResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	doctorID := strings.TrimSpace(q.Get("doctor_id"))
	date := strings.TrimSpace(q.Get("date"))
	if doctorID == "" || date == "" {
		http.Error(w, "doctor_id and date required", http.StatusBadRequest)
		return
	}

	slots, err := h.ctrl.AvailableSlots(r.Context(), doctorID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{Time: s.Time, Available: s.Available})
	}
	writeJSON(w, http.StatusOK, slotsResponse{DoctorID: doctorID, Date: date, Slots: items})
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Slots lists the bookable slots of one date.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		httpx.WriteError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := model.ParseDate(raw)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid date (want YYYY-MM-DD)")
		return
	}
	slots, err := h.slots.Slots(r.Context(), date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{Date: model.FormatDate(date), Slots: slots})
}

// Month returns the six-week calendar grid with a has-slots hint per day. Defaults to the current month.
func (h *Handler) Month(w http.ResponseWriter, r *http.Request) {
	now := h.now().In(h.location)
	year, month := now.Year(), int(now.Month())

	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1970 || n > 9999 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = n
	}
	if v := q.Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid month (want 1-12)")
			return
		}
		month = n
	}

	days, err := h.index.Month(r.Context(), year, time.Month(month))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, monthResponse{Year: year, Month: month, Days: toDays(days)})
}

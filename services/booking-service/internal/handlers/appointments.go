package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/cache"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/recurrence"
)

const idempotencyHeader = "Idempotency-Key"

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var body createAppointmentRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req, err := toBookingRequest(identity(r).UserID, body)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if h.idem == nil || len(key) > 128 {
		key = ""
	}
	var fingerprint string
	if key != "" {
		fingerprint = requestHash(body)
		stored, err := h.idem.Reserve(ctx, req.CustomerID, key, fingerprint)
		switch {
		case errors.Is(err, cache.ErrInProgress):
			httpx.WriteError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		case errors.Is(err, cache.ErrKeyReused):
			httpx.WriteError(w, http.StatusUnprocessableEntity, "idempotency key was already used for a different request")
			return
		case err != nil:
			h.logger.Warn("idempotency reserve failed; continuing without it", "err", err)
			key = ""
		case stored != nil:
			w.Header().Set("Idempotent-Replayed", "true")
			writeRaw(w, stored.StatusCode, stored.Body)
			return
		}
	}

	res, err := h.bookings.Book(ctx, req)
	if err != nil {
		if key != "" {
			if rerr := h.idem.Release(ctx, req.CustomerID, key); rerr != nil {
				h.logger.Warn("idempotency release failed", "err", rerr)
			}
		}
		h.writeErr(w, r, err)
		return
	}

	payload, err := json.Marshal(createAppointmentResponse{
		AppointmentIDs: res.AppointmentIDs(),
		SeriesID:       res.SeriesID,
		Appointments:   toItems(res.Appointments),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if key != "" {
		if err := h.idem.Complete(ctx, req.CustomerID, key, cache.StoredResponse{StatusCode: http.StatusCreated, Body: payload, RequestHash: fingerprint}); err != nil {
			h.logger.Warn("idempotency complete failed", "err", err)
		}
	}
	writeRaw(w, http.StatusCreated, payload)
}

// requestHash fingerprints the decoded body so formatting differences do not count as a new request.
func requestHash(body createAppointmentRequest) string {
	raw, _ := json.Marshal(body)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func toBookingRequest(customerID string, body createAppointmentRequest) (booking.Request, error) {
	req := booking.Request{CustomerID: customerID, Notes: strings.TrimSpace(body.Notes)}
	if strings.TrimSpace(body.Date) != "" {
		date, err := model.ParseDate(body.Date)
		if err != nil {
			return booking.Request{}, &booking.ValidationError{Code: booking.CodeInvalid, Field: "date", Message: "want YYYY-MM-DD"}
		}
		req.Date = date
	}
	if strings.TrimSpace(body.StartTime) != "" {
		start, err := model.ParseClock(body.StartTime)
		if err != nil {
			return booking.Request{}, &booking.ValidationError{Code: booking.CodeInvalid, Field: "start_time", Message: err.Error()}
		}
		slot := &booking.SlotSelection{WindowID: strings.TrimSpace(body.WindowID), StartTime: start}
		if strings.TrimSpace(body.EndTime) != "" {
			end, err := model.ParseClock(body.EndTime)
			if err != nil {
				return booking.Request{}, &booking.ValidationError{Code: booking.CodeInvalid, Field: "end_time", Message: err.Error()}
			}
			slot.EndTime = end
		}
		req.Slot = slot
	}
	if body.Recurring != nil {
		freq, err := recurrence.ParseFrequency(body.Recurring.Frequency)
		if err != nil {
			return booking.Request{}, &booking.ValidationError{Code: booking.CodeInvalid, Field: "recurring.frequency", Message: err.Error()}
		}
		req.Recurring = &booking.RecurringOptions{Frequency: freq, Count: body.Recurring.Count}
	}
	return req, nil
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	appts, err := h.bookings.ListMine(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listAppointmentsResponse{Appointments: toItems(appts)})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Cancel(r.Context(), identity(r).UserID, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

// ListForDate is the manager view of one day; status takes a comma separated filter.
func (h *Handler) ListForDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := model.ParseDate(q.Get("date"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "date is required (YYYY-MM-DD)")
		return
	}
	var statuses []model.Status
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		statuses, err = model.ParseStatuses(strings.Split(raw, ","))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	appts, err := h.bookings.ListForDate(r.Context(), date, statuses)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listAppointmentsResponse{Appointments: toItems(appts)})
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"boxsync-backend/lib/timezone"

	"github.com/go-resty/resty/v2"
)

type rosterPayload struct {
	Success bool             `json:"success"`
	Alumnos []map[string]any `json:"alumnos"`
}

type rosterClient struct {
	http *resty.Client
}

func (c rosterClient) fetch(ctx context.Context, classID, date string) (rosterPayload, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("fecha_where", date).
		SetQueryParam("method", "alumnos").
		Get("/checkin/get_alumnos_clase/" + classID)
	if err != nil {
		return rosterPayload{}, "", err
	}
	if !resp.IsSuccess() {
		return rosterPayload{}, resp.String(), fmt.Errorf("roster endpoint returned %s", resp.Status())
	}

	var payload rosterPayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return rosterPayload{}, resp.String(), err
	}
	return payload, resp.String(), nil
}

// fetchWithDateFallback tries the site's native day-month-year form
// first and retries in ISO form when the roster comes back empty. some
// deployments of the remote app expect one, some the other.
func (c rosterClient) fetchWithDateFallback(ctx context.Context, classID, date string) (rosterPayload, string, error) {
	payload, raw, err := c.fetch(ctx, classID, date)
	if err == nil && len(payload.Alumnos) > 0 {
		return payload, raw, nil
	}

	iso, isoErr := toISODay(date)
	if isoErr != nil {
		return payload, raw, err
	}
	isoPayload, isoRaw, isoErr := c.fetch(ctx, classID, iso)
	if isoErr == nil && len(isoPayload.Alumnos) > 0 {
		return isoPayload, isoRaw, nil
	}
	if err == nil {
		return payload, raw, nil
	}
	return isoPayload, isoRaw, isoErr
}

// ReservationsFor selects the class in the page UI and pulls its roster
// through the authenticated endpoint. transport failures produce an
// empty result rather than an error, one unreachable roster should not
// sink the rest of the day.
func (s *Scraper) ReservationsFor(ctx context.Context, opt ClassOption, date string) (ClassResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationsFor")
	defer span.End()

	result := ClassResult{
		ClassName:    opt.Name,
		ClassID:      opt.ID,
		Reservations: []Reservation{},
		ExtractedAt:  timezone.Now().Format(time.RFC3339),
	}

	// selecting the class in the UI is load-bearing, the server scopes
	// the roster endpoint to the class the session last looked at.
	if err := s.selectClassInUI(ctx, opt.ID); err != nil {
		logAbsorbed(ctx, "could not select class in page", err, "class", opt.Name)
	}

	if err := s.syncCookies(ctx); err != nil {
		logAbsorbed(ctx, "cookie sync failed", err, "class", opt.Name)
		return result, nil
	}

	payload, raw, err := s.roster.fetchWithDateFallback(ctx, opt.ID, date)
	if err != nil {
		logAbsorbed(ctx, "roster fetch failed", err, "class", opt.Name, "date", date)
		return result, nil
	}
	if !payload.Success {
		result.Diagnostic = raw
		return result, nil
	}

	for _, entry := range payload.Alumnos {
		result.Reservations = append(result.Reservations, reservationFromEntry(entry))
	}
	result.TotalReservations = len(result.Reservations)
	return result, nil
}

// selectClassInUI mirrors what a user does in the class dropdown. a
// native SetValue is attempted first, verified by read-back, and a
// scripted assignment with event dispatch covers reactive widgets.
func (s *Scraper) selectClassInUI(ctx context.Context, classID string) error {
	const selector = `select[name*="clase" i], select[id*="clase" i], select`

	if err := s.browser.SetValue(ctx, selector, classID); err == nil {
		var current string
		readErr := s.browser.Eval(ctx,
			fmt.Sprintf(`(() => { const el = document.querySelector(%q); return el ? el.value : ""; })()`, selector),
			&current)
		if readErr == nil && current == classID {
			s.browser.Sleep(ctx, time.Second)
			return nil
		}
	}

	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return false; }
		el.value = %q;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		if (window.jQuery) { window.jQuery(el).trigger('change'); }
		return el.value === %q;
	})()`, selector, classID, classID)

	var ok bool
	if err := s.browser.Eval(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: class select %s", ErrFieldNotFound, classID)
	}
	s.browser.Sleep(ctx, time.Second)
	return nil
}

func reservationFromEntry(entry map[string]any) Reservation {
	r := Reservation{
		ID:                  asInt64(entry["id"]),
		ReservationID:       asInt64(entry["reserva_id"]),
		HashReservationID:   asString(entry["hash_reserva_id"]),
		FirstName:           asString(entry["name"]),
		LastName:            asString(entry["last_name"]),
		Email:               asString(entry["email"]),
		Phone:               asString(entry["telefono"]),
		Status:              asInt64(entry["status"]),
		PlanName:            asString(entry["nombre_plan"]),
		Channel:             asString(entry["canal"]),
		CreatedAt:           asString(entry["fecha_creacion"]),
		AttendanceConfirmed: asBool(entry["asistencia_confirmada"]),
		PendingPayment:      asBool(entry["pago_pendiente"]),
		FormURL:             asString(entry["form_asistencia_url"]),
		ShowForm:            asBool(entry["mostrar_formulario"]),
		Rating:              asString(entry["rating"]),
		Avatar:              asString(entry["imagen"]),
	}
	r.FullName = JoinName(r.FirstName, r.LastName)
	return r
}

func asString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt64(v any) int64 {
	switch v := v.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return n
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || v == "true"
	default:
		return false
	}
}

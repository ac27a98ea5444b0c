package checkin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func rosterServer(t *testing.T, handler http.HandlerFunc) rosterClient {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := resty.New()
	client.SetBaseURL(server.URL)
	return rosterClient{http: client}
}

func TestFetchRoster(t *testing.T) {
	client := rosterServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkin/get_alumnos_clase/104996-237092", r.URL.Path)
		require.Equal(t, "09-03-2025", r.URL.Query().Get("fecha_where"))
		require.Equal(t, "alumnos", r.URL.Query().Get("method"))
		json.NewEncoder(w).Encode(rosterPayload{
			Success: true,
			Alumnos: []map[string]any{{"name": "Ana", "last_name": "Rojas"}},
		})
	})

	payload, _, err := client.fetch(context.Background(), "104996-237092", "09-03-2025")
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, payload.Success)
	require.Len(t, payload.Alumnos, 1)
}

func TestFetchRosterFallsBackToISODate(t *testing.T) {
	var seen []string
	client := rosterServer(t, func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("fecha_where")
		seen = append(seen, date)
		payload := rosterPayload{Success: true, Alumnos: []map[string]any{}}
		if date == "2025-03-09" {
			payload.Alumnos = []map[string]any{{"name": "Ana"}}
		}
		json.NewEncoder(w).Encode(payload)
	})

	payload, _, err := client.fetchWithDateFallback(context.Background(), "104996-237092", "09-03-2025")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"09-03-2025", "2025-03-09"}, seen)
	require.Len(t, payload.Alumnos, 1)
}

func TestFetchRosterPrefersNativeDate(t *testing.T) {
	var requests int
	client := rosterServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(rosterPayload{
			Success: true,
			Alumnos: []map[string]any{{"name": "Ana"}},
		})
	})

	payload, _, err := client.fetchWithDateFallback(context.Background(), "104996-237092", "09-03-2025")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, requests)
	require.Len(t, payload.Alumnos, 1)
}

func TestFetchRosterEmptyBothWays(t *testing.T) {
	client := rosterServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rosterPayload{Success: true, Alumnos: []map[string]any{}})
	})

	payload, _, err := client.fetchWithDateFallback(context.Background(), "104996-237092", "09-03-2025")
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, payload.Success)
	require.Empty(t, payload.Alumnos)
}

func TestFetchRosterServerError(t *testing.T) {
	client := rosterServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, _, err := client.fetchWithDateFallback(context.Background(), "104996-237092", "09-03-2025")
	require.Error(t, err)
}

func TestReservationFromEntry(t *testing.T) {
	entry := map[string]any{
		"id":                    12345.0,
		"reserva_id":            "67890",
		"hash_reserva_id":       "ab12cd",
		"name":                  "Ana María",
		"last_name":             "Rojas",
		"email":                 "ana@example.com",
		"telefono":              "+56912345678",
		"status":                1.0,
		"nombre_plan":           "Plan Ilimitado",
		"canal":                 "app",
		"fecha_creacion":        "2025-03-08 19:22:01",
		"asistencia_confirmada": "1",
		"pago_pendiente":        false,
		"form_asistencia_url":   "",
		"mostrar_formulario":    1.0,
		"rating":                nil,
		"imagen":                "https://cdn.example.com/a.png",
	}

	r := reservationFromEntry(entry)
	require.Equal(t, int64(12345), r.ID)
	require.Equal(t, int64(67890), r.ReservationID)
	require.Equal(t, "Ana María", r.FirstName)
	require.Equal(t, "Rojas", r.LastName)
	require.Equal(t, "Ana María Rojas", r.FullName)
	require.Equal(t, int64(1), r.Status)
	require.True(t, r.AttendanceConfirmed)
	require.False(t, r.PendingPayment)
	require.True(t, r.ShowForm)
	require.Equal(t, "", r.Rating)
}

func TestReservationFromSparseEntry(t *testing.T) {
	r := reservationFromEntry(map[string]any{"name": "Solo"})
	require.Equal(t, "Solo", r.FullName)
	require.Zero(t, r.ID)
	require.False(t, r.AttendanceConfirmed)
}

func TestJoinName(t *testing.T) {
	require.Equal(t, "Ana Rojas", JoinName("Ana", "Rojas"))
	require.Equal(t, "Ana", JoinName("Ana", ""))
	require.Equal(t, "Rojas", JoinName("", "Rojas"))
	require.Equal(t, "", JoinName("", ""))
	require.Equal(t, "Ana Rojas", JoinName(" Ana ", " Rojas "))
}

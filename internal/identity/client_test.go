package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/identities", r.URL.Path)

		var req resolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "12345678911", req.PrimaryID)

		json.NewEncoder(w).Encode(Identity{
			PrimaryID:   "12345678911",
			SecondaryID: "secondary-1",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	ident, err := client.Resolve(context.Background(), "12345678911")
	require.NoError(t, err)
	require.Equal(t, "12345678911", ident.PrimaryID)
	require.Equal(t, "secondary-1", ident.SecondaryID)
}

func TestClient_Resolve_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	_, err := client.Resolve(context.Background(), "12345678911")
	require.Error(t, err)
	require.ErrorContains(t, err, "unexpected status 404")
}

func TestClient_Resolve_MissingPrimaryID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"secondary_id":"secondary-1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	_, err := client.Resolve(context.Background(), "12345678911")
	require.Error(t, err)
	require.ErrorContains(t, err, "missing primary_id")
}

func TestRetryPolicy_Do(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("down")
		err := policy.Do(context.Background(), func() error {
			calls++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		require.ErrorContains(t, err, "exhausted 3 attempts")
		require.Equal(t, 3, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := policy.Do(ctx, func() error { return errors.New("never retried") })
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{}.Do(context.Background(), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})
}

func TestRetryPolicy_BackoffCappedAtMax(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     10,
	}

	start := time.Now()
	calls := 0
	_ = policy.Do(context.Background(), func() error {
		calls++
		return errors.New("down")
	})
	require.Equal(t, 4, calls)
	// 3 sleeps of at most 2ms each; generous bound against slow CI.
	require.Less(t, time.Since(start), time.Second)
}

package topdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, serverURL string, pageSize int) *Client {
	t.Helper()
	c := NewClient(serverURL, "operator", "secret", pageSize)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

// loginHandler serves /tas/api/login/operator and hands out "token-1"
func loginHandler(t *testing.T, logins *int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "login must use basic auth")
		require.Equal(t, "operator", user)
		require.Equal(t, "secret", pass)
		*logins++
		fmt.Fprintf(w, "token-%d", *logins)
	}
}

func writePage(t *testing.T, w http.ResponseWriter, status int, items interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(items))
}

func TestListIncidentsPagination(t *testing.T) {
	// 7 incidents, page size 3: expect {partial, partial, final}
	all := make([]Incident, 7)
	for i := range all {
		all[i] = Incident{ID: fmt.Sprintf("id-%d", i), Number: fmt.Sprintf("I-%d", i)}
	}

	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/incidents", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, `TOKEN id="token-1"`, r.Header.Get("Authorization"))
		require.Equal(t, "creation_date ASC", r.URL.Query().Get("order_by"))
		// The raw query must carry a literal plus, not a %2B escape
		require.Contains(t, r.URL.RawQuery, "order_by=creation_date+ASC")
		require.Equal(t, "3", r.URL.Query().Get("page_size"))

		start, err := strconv.Atoi(r.URL.Query().Get("start"))
		require.NoError(t, err)

		end := start + 3
		if end >= len(all) {
			writePage(t, w, http.StatusOK, all[start:])
			return
		}
		writePage(t, w, http.StatusPartialContent, all[start:end])
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	incidents, err := c.ListIncidents(context.Background())
	require.NoError(t, err)
	require.Equal(t, all, incidents, "concatenated pages must equal the full ordered listing")
	assert.Equal(t, 1, logins, "token is obtained once and reused")
}

func TestListIncidentsSingleFinalPageMatchesPaged(t *testing.T) {
	all := []Incident{{Number: "I-1"}, {Number: "I-2"}, {Number: "I-3"}}

	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/incidents", func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, http.StatusOK, all)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 100)
	incidents, err := c.ListIncidents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, all, incidents)
}

func TestListIncidentsEmpty(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/incidents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 100)
	incidents, err := c.ListIncidents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestListIncidentsUnexpectedStatus(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/incidents", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 100)
	_, err := c.ListIncidents(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Contains(t, statusErr.Body, "boom")
}

func TestListProgressTrailPagination(t *testing.T) {
	// Newest-first on the wire, as the real server behaves
	entries := []ProgressEntry{
		{MemoText: "third"},
		{MemoText: "second"},
		{MemoText: "first"},
	}

	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/incidents/id/abc/progresstrail", func(w http.ResponseWriter, r *http.Request) {
		start, err := strconv.Atoi(r.URL.Query().Get("start"))
		require.NoError(t, err)
		if start == 0 {
			writePage(t, w, http.StatusPartialContent, entries[:2])
			return
		}
		writePage(t, w, http.StatusOK, entries[2:])
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 2)
	got, err := c.ListProgressTrail(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, entries, got, "wire order must be preserved, not reinterpreted")
}

func TestReauthenticatesOnceOnForbidden(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/incidents", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == `TOKEN id="token-1"` {
			http.Error(w, "token expired", http.StatusForbidden)
			return
		}
		writePage(t, w, http.StatusOK, []Incident{{Number: "I-1"}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 100)
	incidents, err := c.ListIncidents(context.Background())
	require.NoError(t, err)
	assert.Len(t, incidents, 1)
	assert.Equal(t, 2, logins, "expired token triggers exactly one re-login")
}

func TestAuthExpiredAfterRetry(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/incidents", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 100)
	_, err := c.ListIncidents(context.Background())
	require.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, 2, logins, "only a single retry after re-login")
}

func TestRawStripsAPIPrefix(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/attachments/42/download", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "*/*", r.Header.Get("Accept"))
		w.Write([]byte("binary-content"))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 100)

	for _, locator := range []string{
		"/tas/api/attachments/42/download",
		"/attachments/42/download",
		"attachments/42/download",
	} {
		body, err := c.Raw(context.Background(), locator)
		require.NoError(t, err, "locator %q", locator)
		data, err := io.ReadAll(body)
		require.NoError(t, body.Close())
		require.NoError(t, err)
		assert.Equal(t, "binary-content", string(data))
	}
}

func TestCurrentOperator(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/tas/api/login/operator", loginHandler(t, &logins))
	mux.HandleFunc("/tas/api/operators/current", func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, http.StatusOK, Operator{ID: "op-1", LoginName: "operator"})
	})
	mux.HandleFunc("/tas/api/operators/id/op-1/operatorgroups", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL, 100)
	op, err := c.CurrentOperator(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "op-1", op.ID)

	groups, err := c.OperatorGroups(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestTimeUnmarshal(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"rfc3339", `"2018-09-10T08:48:21Z"`, "2018-09-10T08:48:21Z"},
		{"topdesk offset", `"2018-09-10T10:48:21.000+0200"`, "2018-09-10T10:48:21+02:00"},
		{"date only", `"2018-09-10"`, "2018-09-10T00:00:00Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ts Time
			require.NoError(t, json.Unmarshal([]byte(tc.in), &ts))
			assert.Equal(t, tc.want, ts.Format("2006-01-02T15:04:05Z07:00"))
		})
	}

	t.Run("null", func(t *testing.T) {
		var ts Time
		require.NoError(t, json.Unmarshal([]byte("null"), &ts))
		assert.True(t, ts.IsZero())
	})

	t.Run("garbage", func(t *testing.T) {
		var ts Time
		require.Error(t, json.Unmarshal([]byte(`"not a date"`), &ts))
	})
}

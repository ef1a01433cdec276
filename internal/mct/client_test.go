package mct

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHasher struct {
	mock.Mock
}

func (m *mockHasher) CDBHash(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	if fn, ok := args.Get(0).(func(string) string); ok {
		return fn(path), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

type trainer struct {
	*httptest.Server
	logins atomic.Int32
	lists  atomic.Int32
}

func newTrainer(t *testing.T) *trainer {
	tr := &trainer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/api-token-auth/", func(w http.ResponseWriter, r *http.Request) {
		tr.logins.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["username"] != "admin" || body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Token tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /api/concept-dbs/", auth(func(w http.ResponseWriter, r *http.Request) {
		tr.lists.Add(1)
		// File urls come back without the port.
		host := "http://127.0.0.1"
		_, _ = w.Write([]byte(`{"results": [
			{"id": 1, "name": "snomed", "cdb_file": "` + host + `/media/one.dat"},
			{"id": "2", "name": "icd", "cdb_file": "` + host + `/media/two.dat"},
			{"id": 3, "name": "gone", "cdb_file": "` + host + `/media/missing.dat"}
		]}`))
	}))
	mux.HandleFunc("GET /media/{file}", auth(func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("file") {
		case "one.dat":
			_, _ = w.Write([]byte("cdb-one"))
		case "two.dat":
			_, _ = w.Write([]byte("cdb-two"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	tr.Server = httptest.NewServer(mux)
	t.Cleanup(tr.Close)
	return tr
}

// contentHasher hashes a file to its content, so tests can tell files apart.
func contentHasher(h *mockHasher) {
	h.On("CDBHash", mock.Anything, mock.Anything).Return(func(p string) string {
		b, _ := os.ReadFile(p)
		return "hash-" + strings.TrimPrefix(string(b), "cdb-")
	}, nil)
}

func TestCDBIDForHash(t *testing.T) {
	tr := newTrainer(t)
	h := new(mockHasher)
	contentHasher(h)
	c, err := New(Config{BaseURL: tr.URL + "/api", Username: "admin", Password: "secret"}, h, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	id, ok, err := c.CDBIDForHash(ctx, "hash-two")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", id)

	_, ok, err = c.CDBIDForHash(ctx, "hash-unknown")
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, int32(1), tr.logins.Load(), "token is cached")
	require.Equal(t, int32(1), tr.lists.Load(), "listing is cached")
	h.AssertNumberOfCalls(t, "CDBHash", 2)
}

func TestBadCredentials(t *testing.T) {
	tr := newTrainer(t)
	c, err := New(Config{BaseURL: tr.URL + "/api/", Username: "admin", Password: "wrong"}, new(mockHasher), nil, nil)
	require.NoError(t, err)

	_, _, err = c.CDBIDForHash(context.Background(), "hash-one")
	require.ErrorIs(t, err, ErrAuth)
}

func TestFixPort(t *testing.T) {
	c, err := New(Config{BaseURL: "http://trainer:8001/api/"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "http://trainer:8001/media/a.dat", c.fixPort("http://trainer/media/a.dat"))
	require.Equal(t, "http://trainer:8001/media/a.dat", c.fixPort("http://trainer:80/media/a.dat"))

	c, err = New(Config{BaseURL: "http://trainer/api/"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "http://other:9/a.dat", c.fixPort("http://other:9/a.dat"))
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var dbs []ConceptDB
	require.NoError(t, json.Unmarshal([]byte(`[{"id": 7}, {"id": "x"}]`), &dbs))
	require.Equal(t, ID("7"), dbs[0].ID)
	require.Equal(t, ID("x"), dbs[1].ID)
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"}, nil, nil, nil)
	require.Error(t, err)
}

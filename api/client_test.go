package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumapis/config"
	"fumapis/models"
	"fumapis/services"
	"fumapis/utils"
)

func newTestClient(t *testing.T, h http.Handler, session *models.Session) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		APIURL:         srv.URL,
		ViaCEPURL:      srv.URL,
		HTTPTimeout:    5 * time.Second,
		PageSize:       2,
		MaxPages:       10,
		MaxConcurrency: 3,
		RateLimitMs:    0,
	}
	return New(cfg, session, utils.NewDiscardLogger())
}

func staffSession() *models.Session {
	return &models.Session{Token: "tok-123", Username: "ana"}
}

func TestLogin(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/login", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		if r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail": "Usuário ou senha inválidos"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token": "tok-123", "name": "Ana Souza"}`))
	})

	t.Run("success stores the session", func(t *testing.T) {
		c := newTestClient(t, h, nil)
		s, err := c.Login(context.Background(), "ana", "secret")
		require.NoError(t, err)

		assert.Equal(t, "tok-123", s.Token)
		assert.Equal(t, "ana", s.Username)
		assert.Equal(t, "Ana Souza", s.Name)
		assert.Same(t, s, c.Session())
	})

	t.Run("bad credentials surface detail", func(t *testing.T) {
		c := newTestClient(t, h, nil)
		_, err := c.Login(context.Background(), "ana", "wrong")

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.Equal(t, "Usuário ou senha inválidos", apiErr.Message)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestLoginWithoutToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username": "ana"}`))
	}), nil)

	_, err := c.Login(context.Background(), "ana", "secret")
	assert.Error(t, err)
	assert.Nil(t, c.Session())
}

func TestAuthenticatedCallsRequireSession(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}), nil)

	_, err := c.ListCitizens(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, atomic.LoadInt32(&hits), "no request should leave without a session")
}

func TestListCitizens(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cidadaos/", r.URL.Path)
		assert.Equal(t, "Token tok-123", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, _ = w.Write([]byte(`[{"id": 1, "nome_completo": "Ana", "bairro": "Centro", "votou": "true"}]`))
	}), staffSession())

	records, err := c.ListCitizens(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].ID)
	assert.True(t, records[0].HasVoted)
}

func TestListCitizensRejectsObjectPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message": "ok"}`))
	}), staffSession())

	_, err := c.ListCitizens(context.Background())
	assert.ErrorIs(t, err, services.ErrNotSequence)
}

func TestSearchCitizensQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/cidadaos", r.URL.Path)
		assert.Equal(t, "10", q.Get("skip"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "52998224725", q.Get("cpf"))
		assert.Equal(t, "Centro", q.Get("bairro"))
		assert.Equal(t, "true", q.Get("votou"))
		assert.False(t, q.Has("elegivel"))
		_, _ = w.Write([]byte(`{"items": [{"id": 3}], "total": 11}`))
	}), staffSession())

	voted := true
	page, err := c.SearchCitizens(context.Background(), models.SearchFilter{
		Skip: 10, Limit: 5, NationalID: "529.982.247-25", Neighborhood: "Centro", Voted: &voted,
	})
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	assert.Len(t, page.Items, 1)
}

func TestFetchAllWithEnvelope(t *testing.T) {
	const total = 7
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var items []map[string]any
		for i := skip; i < skip+limit && i < total; i++ {
			items = append(items, map[string]any{"id": i, "bairro": "Centro"})
		}
		// The last page repeats an id to exercise cross-page de-duplication.
		if skip == 6 {
			items = append(items, map[string]any{"id": 0})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "total": total})
	}), staffSession())

	records, err := c.FetchAll(context.Background(), models.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, records, total)
	for i, r := range records {
		assert.Equal(t, strconv.Itoa(i), r.ID, "pages must be stitched in order")
	}
}

func TestFetchAllWithCappedPages(t *testing.T) {
	const total, pageCap = 12, 3
	var limits sync.Map
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		limits.Store(skip, r.URL.Query().Get("limit"))
		var items []map[string]any
		for i := skip; i < skip+pageCap && i < total; i++ {
			items = append(items, map[string]any{"id": i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "total": total})
	}), staffSession())

	records, err := c.FetchAll(context.Background(), models.SearchFilter{Limit: 5})
	require.NoError(t, err)
	require.Len(t, records, total, "a capped page size must not drop ranges")
	for i, r := range records {
		assert.Equal(t, strconv.Itoa(i), r.ID)
	}
	for _, skip := range []int{3, 6, 9} {
		limit, ok := limits.Load(skip)
		require.True(t, ok, "page at skip=%d never requested", skip)
		assert.Equal(t, "3", limit)
	}
}

func TestFetchAllReturnsShortResult(t *testing.T) {
	// The server claims more citizens than it ever hands out.
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skip") == "0" {
			_, _ = w.Write([]byte(`{"items": [{"id": 1}, {"id": 2}], "total": 6}`))
			return
		}
		_, _ = w.Write([]byte(`{"items": [], "total": 6}`))
	}), staffSession())

	records, err := c.FetchAll(context.Background(), models.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFetchAllWithBareArrays(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Query().Get("skip") {
		case "0":
			_, _ = w.Write([]byte(`[{"id": 1}, {"id": 2}]`))
		case "2":
			_, _ = w.Write([]byte(`[{"id": 3}, {"id": 4}]`))
		default:
			_, _ = w.Write([]byte(`[{"id": 5}]`))
		}
	}), staffSession())

	records, err := c.FetchAll(context.Background(), models.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 5)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchAllPropagatesPageError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skip") == "4" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"items": [{"id": 1}, {"id": 2}], "total": 6}`))
	}), staffSession())

	_, err := c.FetchAll(context.Background(), models.SearchFilter{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestGetByCPF(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cidadaos/cpf/52998224725" {
			_, _ = w.Write([]byte(`{"id": 9, "nome_completo": "Ana", "cpf": "52998224725", "status_cadastro": "Ativo"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": "Cidadão não encontrado"}`))
	}), staffSession())

	rec, err := c.GetByCPF(context.Background(), "529.982.247-25")
	require.NoError(t, err)
	assert.Equal(t, "9", rec.ID)
	assert.Equal(t, models.StatusActive, rec.RegistrationStatus)

	_, err = c.GetByCPF(context.Background(), "111.444.777-35")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetByCPF(context.Background(), "123")
	assert.Error(t, err)
}

func TestCreateCitizen(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cidadaos/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "nome_conjuge", "empty optionals must be sent as null")
		assert.Nil(t, body["nome_conjuge"])

		if body["cpf"] == "11144477735" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"cpf": ["cidadão com este cpf já existe."]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 12, "nome_completo": "Ana", "cpf": "52998224725"}`))
	}), staffSession())

	rec, err := c.CreateCitizen(context.Background(), &models.CitizenPayload{FullName: "Ana", CPF: "52998224725"})
	require.NoError(t, err)
	assert.Equal(t, "12", rec.ID)

	_, err = c.CreateCitizen(context.Background(), &models.CitizenPayload{FullName: "Bia", CPF: "11144477735"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "cpf: cidadão com este cpf já existe.", apiErr.Message)
}

func TestUpdateCitizen(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/cidadaos/12", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Inamar", body["bairro"])
		_, _ = w.Write([]byte(`{"id": 12, "bairro": "Inamar"}`))
	}), staffSession())

	rec, err := c.UpdateCitizen(context.Background(), "12", map[string]any{"bairro": "Inamar"})
	require.NoError(t, err)
	assert.Equal(t, "Inamar", rec.Neighborhood)

	_, err = c.UpdateCitizen(context.Background(), "12", nil)
	assert.Error(t, err)
}

func TestUploadSpreadsheet(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-xlsx", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "planilha.xlsx", hdr.Filename)
		assert.Equal(t, "PK-fake", string(data))
		_, _ = fmt.Fprint(w, `{"message": "ok", "imported": 3}`)
	}), staffSession())

	dir := t.TempDir()
	path := filepath.Join(dir, "planilha.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("PK-fake"), 0o600))

	res, err := c.UploadSpreadsheet(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported)

	csvPath := filepath.Join(dir, "planilha.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b"), 0o600))
	_, err = c.UploadSpreadsheet(context.Background(), csvPath)
	assert.Error(t, err)
}

func TestUploadSpreadsheetInvalidResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}), nil)

	path := filepath.Join(t.TempDir(), "x.XLSX")
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o600))

	_, err := c.UploadSpreadsheet(context.Background(), path)
	assert.Error(t, err)
}

func TestLookupCEP(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "the session token must not leak to ViaCEP")
		switch r.URL.Path {
		case "/ws/09910720/json/":
			_, _ = w.Write([]byte(`{"cep": "09910-720", "logradouro": "Rua Marechal Deodoro", "bairro": "Centro", "localidade": "Diadema", "uf": "SP"}`))
		default:
			_, _ = w.Write([]byte(`{"erro": "true"}`))
		}
	}), staffSession())

	addr, err := c.LookupCEP(context.Background(), "09910-720")
	require.NoError(t, err)
	assert.Equal(t, "Diadema", addr.City)
	assert.Equal(t, "Rua Marechal Deodoro", addr.Street)

	_, err = c.LookupCEP(context.Background(), "00000000")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.LookupCEP(context.Background(), "123")
	assert.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail string", `{"detail": "Token inválido"}`, "Token inválido"},
		{"message", `{"message": "Erro ao buscar os dados"}`, "Erro ao buscar os dados"},
		{"fastapi validation", `{"detail": [{"loc": ["body", "cpf"], "msg": "field required"}]}`, "field required"},
		{"field errors", `{"email": ["inválido"], "cpf": ["já existe"]}`, "cpf: já existe; email: inválido"},
		{"plain text", `Internal Server Error`, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
		})
	}
}

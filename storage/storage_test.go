package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runConformance exercises the Storage contract against a backend.
func runConformance(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("absent slot reads nil", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "turnkey_embedded_key", []byte("secret-value")))

		v, err := s.Get(ctx, "turnkey_embedded_key")
		require.NoError(t, err)
		assert.Equal(t, []byte("secret-value"), v)
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "slot", []byte("one")))
		require.NoError(t, s.Set(ctx, "slot", []byte("two")))

		v, err := s.Get(ctx, "slot")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "slot", []byte("value")))
		require.NoError(t, s.Remove(ctx, "slot"))

		v, err := s.Get(ctx, "slot")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("remove absent is a no-op", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Remove(context.Background(), "never-set"))
	})

	t.Run("slots are independent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "turnkey_session:a", []byte("a")))
		require.NoError(t, s.Set(ctx, "turnkey_session:b", []byte("b")))
		require.NoError(t, s.Remove(ctx, "turnkey_session:a"))

		v, err := s.Get(ctx, "turnkey_session:b")
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), v)
	})

	t.Run("binary values", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		value := []byte{0x00, 0xff, 0x10, 0x00, 0x7f}
		require.NoError(t, s.Set(ctx, "bin", value))

		v, err := s.Get(ctx, "bin")
		require.NoError(t, err)
		assert.Equal(t, value, v)
	})
}

func TestMemoryStore(t *testing.T) {
	runConformance(t, func(t *testing.T) Storage { return NewMemoryStore() })
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "slot", value))
	value[0] = 'x'

	got, err := s.Get(ctx, "slot")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, err := s.Get(ctx, "slot")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
	assert.ElementsMatch(t, []string{"slot"}, s.Slots())
}

func newFileStore(t *testing.T, dir string, passphrase string) *FileStore {
	t.Helper()
	s, err := NewFileStore(FileConfig{Dir: dir, Passphrase: []byte(passphrase)})
	require.NoError(t, err)
	return s
}

func TestFileStore(t *testing.T) {
	runConformance(t, func(t *testing.T) Storage {
		return newFileStore(t, t.TempDir(), "correct horse battery staple")
	})
}

func TestFileStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := newFileStore(t, dir, "passphrase")
	require.NoError(t, first.Set(ctx, "turnkey_selected_session", []byte("default")))

	reopened := newFileStore(t, dir, "passphrase")
	v, err := reopened.Get(ctx, "turnkey_selected_session")
	require.NoError(t, err)
	assert.Equal(t, []byte("default"), v)

	wrong := newFileStore(t, dir, "another passphrase")
	_, err = wrong.Get(ctx, "turnkey_selected_session")
	require.Error(t, err)

	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "open", storeErr.Op)
	assert.Equal(t, "turnkey_selected_session", storeErr.Slot)
}

func TestFileStore_SealedOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newFileStore(t, dir, "passphrase")

	require.NoError(t, s.Set(ctx, "turnkey_embedded_key", []byte("plaintext-private-key")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var sealed int
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), slotFileExt) {
			continue
		}
		sealed++
		assert.NotContains(t, e.Name(), "turnkey_embedded_key")

		info, err := e.Info()
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "plaintext-private-key")
	}
	assert.Equal(t, 1, sealed)
}

func TestFileStore_SlotBoundToFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newFileStore(t, dir, "passphrase")

	require.NoError(t, s.Set(ctx, "a", []byte("value-a")))
	require.NoError(t, s.Set(ctx, "b", []byte("value-b")))

	// Swapping sealed files must not let one slot decrypt as another.
	rawA, err := os.ReadFile(s.path("a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path("b"), rawA, 0o600))

	_, err = s.Get(ctx, "b")
	assert.Error(t, err)
}

func TestNewFileStore_Validation(t *testing.T) {
	_, err := NewFileStore(FileConfig{Passphrase: []byte("x")})
	assert.Error(t, err)

	_, err = NewFileStore(FileConfig{Dir: t.TempDir()})
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, saltFileName), []byte("short"), 0o600))
	_, err = NewFileStore(FileConfig{Dir: dir, Passphrase: []byte("x")})
	assert.Error(t, err)
}

func TestSQLStore(t *testing.T) {
	runConformance(t, func(t *testing.T) Storage {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "slots.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "slots.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "turnkey_session_index", []byte(`["default"]`)))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(ctx, "turnkey_session_index")
	require.NoError(t, err)
	assert.Equal(t, []byte(`["default"]`), v)
}

// fakeVault serves a minimal KV v2 engine mounted at /v1/secret.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	token   string
}

func newFakeVault(t *testing.T, token string) *httptest.Server {
	fv := &fakeVault{secrets: map[string]map[string]interface{}{}, token: token}
	srv := httptest.NewServer(fv)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/secret/")
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(path, "data/") && r.Method == http.MethodGet:
		data, ok := f.secrets[strings.TrimPrefix(path, "data/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data, "metadata": map[string]interface{}{"version": 1}},
		})
	case strings.HasPrefix(path, "data/") && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.secrets[strings.TrimPrefix(path, "data/")] = body.Data
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"version": 1}})
	case strings.HasPrefix(path, "metadata/") && r.Method == http.MethodDelete:
		key := strings.TrimPrefix(path, "metadata/")
		if _, ok := f.secrets[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.secrets, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultStore(t *testing.T) {
	runConformance(t, func(t *testing.T) Storage {
		srv := newFakeVault(t, "test-token")
		s, err := NewVaultStore(VaultConfig{
			Address:   srv.URL,
			Token:     "test-token",
			MountPath: "secret",
			DataPath:  "turnkey/sessions",
		})
		require.NoError(t, err)
		return s
	})
}

func TestVaultStore_Paths(t *testing.T) {
	s := &VaultStore{mountPath: "secret", dataPath: "turnkey"}
	assert.Equal(t, "secret/data/turnkey/slot", s.secretPath("data", "slot"))
	assert.Equal(t, "secret/metadata/turnkey/slot", s.secretPath("metadata", "slot"))

	s.dataPath = ""
	assert.Equal(t, "secret/data/slot", s.secretPath("data", "slot"))
}

func TestVaultStore_PermissionDenied(t *testing.T) {
	srv := newFakeVault(t, "right-token")
	s, err := NewVaultStore(VaultConfig{Address: srv.URL, Token: "wrong-token"})
	require.NoError(t, err)

	err = s.Set(context.Background(), "slot", []byte("value"))
	require.Error(t, err)

	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "vault", storeErr.Backend)
	assert.Equal(t, "write", storeErr.Op)
}

func TestError(t *testing.T) {
	inner := errors.New("disk full")
	err := wrapErr("file", "write", "slot", inner)

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, `file storage: failed to write "slot": disk full`, err.Error())
	assert.NoError(t, wrapErr("file", "write", "slot", nil))
}

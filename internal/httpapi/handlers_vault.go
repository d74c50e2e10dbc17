package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/routehub/routehub/internal/vault"
)

type vaultUnlockRequest struct {
	Password string `json:"password"`
}

// VaultUnlockHandler derives the master key and opens the secret store.
func VaultUnlockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req vaultUnlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.Vault.Unlock([]byte(req.Password)); err != nil {
			if errors.Is(err, vault.ErrBadPassword) {
				jsonError(w, "wrong master password", http.StatusForbidden)
				return
			}
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locked": false})
	}
}

// VaultLockHandler drops the derived key from memory.
func VaultLockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		d.Vault.Lock()
		writeJSON(w, http.StatusOK, map[string]any{"locked": true})
	}
}

// VaultListHandler lists secret names, never values.
func VaultListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		names, err := d.Vault.List()
		if err != nil {
			vaultError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"secrets": names, "locked": d.Vault.IsLocked()})
	}
}

type vaultSetRequest struct {
	Value string `json:"value"`
}

// VaultSetHandler stores one secret under the derived key.
func VaultSetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var req vaultSetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.Vault.Set(name, req.Value); err != nil {
			vaultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name})
	}
}

// VaultDeleteHandler removes one secret.
func VaultDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := d.Vault.Delete(name); err != nil {
			vaultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "deleted": true})
	}
}

func vaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrLocked):
		jsonError(w, "vault is locked", http.StatusConflict)
	case errors.Is(err, vault.ErrNotFound):
		jsonError(w, "secret not found", http.StatusNotFound)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

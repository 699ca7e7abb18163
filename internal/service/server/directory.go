package server

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"castle_chat/internal/cryptographic/dh"
	"castle_chat/internal/cryptographic/signature"
	"castle_chat/internal/utils/log"
)

type (
	RegisterRequest struct {
		PublicKey []byte `json:"public_key"`
	}

	RootKeyResponse struct {
		PublicKey ed25519.PublicKey `json:"public_key"`
	}
)

func (s *HttpServer) HandleDirectoryRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.signer == nil {
			http.Error(w, "directory disabled", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, RootKeyResponse{PublicKey: s.signer.Public().(ed25519.PublicKey)})
	}
}

func (s *HttpServer) HandleGetCertificate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := mux.Vars(r)["name"]

		cert, err := s.certificates.GetByName(ctx, name)
		if err != nil {
			log.Error("get certificate failed", zap.String("name", name), zap.Error(err))
			http.Error(w, "get certificate failed", http.StatusInternalServerError)
			return
		}

		if cert == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, cert)
	}
}

// HandlePutCertificate issues a certificate binding name to the posted key.
func (s *HttpServer) HandlePutCertificate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := mux.Vars(r)["name"]

		if s.signer == nil {
			http.Error(w, "directory disabled", http.StatusServiceUnavailable)
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		if len(req.PublicKey) != dh.KeySize {
			http.Error(w, "public key must be 32 bytes", http.StatusBadRequest)
			return
		}

		cert := signature.IssueCertificate(s.signer, name, req.PublicKey)
		if err := s.certificates.Put(ctx, cert); err != nil {
			log.Error("put certificate failed", zap.String("name", name), zap.Error(err))
			http.Error(w, "put certificate failed", http.StatusInternalServerError)
			return
		}

		log.Info("certificate issued", zap.String("name", name))
		writeJSON(w, http.StatusOK, cert)
	}
}

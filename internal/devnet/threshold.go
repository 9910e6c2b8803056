package devnet

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/gateway"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/threshold"
)

func (s *Server) handleBlockhash(w http.ResponseWriter, r *http.Request) {
	height, hash := s.chain.latest()
	s.blockhashes.Put(hash, height)
	writeJSON(w, http.StatusOK, threshold.BlockhashResponse{Blockhash: hash})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req session.SessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, err.Error())
		return
	}

	now := s.clock.Now()
	switch {
	case strings.TrimSpace(req.Chain) == "":
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, "chain is required")
		return
	case len(req.ResourceAbilityRequests) == 0:
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, "resourceAbilityRequests is required")
		return
	case !req.Expiration.After(now):
		writeError(w, http.StatusBadRequest, threshold.CodeSessionExpired, "expiration must be in the future")
		return
	case req.Expiration.After(now.Add(MaxSessionTTL)):
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest,
			fmt.Sprintf("expiration must be within %s", MaxSessionTTL))
		return
	}

	uri := "lit:session:" + uuid.NewString()
	s.challenges.Put(uri, challenge{
		Chain:      req.Chain,
		Expiration: req.Expiration,
		Scope:      req.ResourceAbilityRequests,
	})
	writeJSON(w, http.StatusOK, threshold.ChallengeResponse{
		ResourceAbilityRequests: req.ResourceAbilityRequests,
		Expiration:              req.Expiration,
		URI:                     uri,
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req threshold.SignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, err.Error())
		return
	}

	ch, ok := s.challenges.Take(req.URI)
	if !ok {
		writeError(w, http.StatusUnauthorized, threshold.CodeInvalidSession, "unknown or used challenge")
		return
	}

	msg, err := session.VerifyAuthSig(req.AuthSig)
	if err != nil {
		writeError(w, http.StatusUnauthorized, threshold.CodeInvalidSession, err.Error())
		return
	}

	now := s.clock.Now()
	if reason := checkDelegation(msg, req.URI, ch); reason != "" {
		writeError(w, http.StatusUnauthorized, threshold.CodeInvalidSession, reason)
		return
	}
	if !now.Before(msg.ExpirationTime) {
		writeError(w, http.StatusUnauthorized, threshold.CodeSessionExpired, "delegation expired")
		return
	}
	if _, fresh := s.blockhashes.Get(msg.Nonce); !fresh {
		writeError(w, http.StatusUnauthorized, threshold.CodeInvalidSession, "nonce is not a recent blockhash")
		return
	}

	sigs, err := issue(r.Context(), s.keys.Node, statement{
		URI:        req.URI,
		Chain:      ch.Chain,
		Address:    req.AuthSig.Address,
		IssuedAt:   now,
		Expiration: ch.Expiration,
		Scope:      ch.Scope,
		AuthSig:    req.AuthSig,
	})
	if err != nil {
		s.log.Errorf("issue session: %v", err)
		writeError(w, http.StatusInternalServerError, threshold.CodeInternal, "could not issue session")
		return
	}

	s.log.WithFields(logrus.Fields{
		"address":    req.AuthSig.Address,
		"chain":      ch.Chain,
		"expiration": ch.Expiration,
	}).Info("session issued")
	writeJSON(w, http.StatusOK, threshold.SignResponse{SessionSigs: sigs})
}

// checkDelegation returns why msg does not answer the challenge, or "".
func checkDelegation(msg session.SIWEMessage, uri string, ch challenge) string {
	if msg.URI != uri {
		return "signed uri does not match challenge"
	}
	if msg.ExpirationTime.IsZero() || msg.ExpirationTime.After(ch.Expiration) {
		return "signed expiration exceeds challenge"
	}
	if msg.ChainID != session.ChainID(ch.Chain) {
		return "signed chain id does not match challenge"
	}
	if len(msg.Resources) == 0 {
		return "missing recap resource"
	}
	granted, err := session.DecodeRecap(msg.Resources[len(msg.Resources)-1])
	if err != nil {
		return err.Error()
	}
	if !covers(granted, ch.Scope) {
		return "signed capabilities do not cover requested scope"
	}
	return ""
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req gateway.EncryptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, err.Error())
		return
	}
	if len(req.DataToEncrypt) == 0 {
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, "dataToEncrypt is required")
		return
	}
	if err := acc.ValidateAll(req.AccessControlConditions); err != nil {
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, err.Error())
		return
	}

	cipherText, hash, err := seal(s.keys.Master, req.DataToEncrypt, req.AccessControlConditions)
	if err != nil {
		s.log.Errorf("seal: %v", err)
		writeError(w, http.StatusInternalServerError, threshold.CodeInternal, "could not encrypt")
		return
	}
	writeJSON(w, http.StatusOK, gateway.EncryptResponse{Ciphertext: cipherText, DataToEncryptHash: hash})
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req gateway.DecryptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, threshold.CodeBadRequest, err.Error())
		return
	}

	st, err := verifySession(req.SessionSigs, s.NodeAddress(), s.clock.Now())
	switch {
	case errors.Is(err, ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, threshold.CodeSessionExpired, err.Error())
		return
	case errors.Is(err, ErrScope):
		writeError(w, http.StatusForbidden, threshold.CodeAccessDenied, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, threshold.CodeInvalidSession, err.Error())
		return
	}

	if err := evaluate(req.AccessControlConditions, st.Address); err != nil {
		s.log.WithFields(logrus.Fields{
			"address": st.Address,
			"hash":    req.DataToEncryptHash,
		}).Info("decryption denied")
		writeError(w, http.StatusForbidden, threshold.CodeAccessDenied, err.Error())
		return
	}

	data, err := open(s.keys.Master, req.Ciphertext, req.DataToEncryptHash, req.AccessControlConditions)
	if err != nil {
		writeError(w, http.StatusBadRequest, threshold.CodeIntegrity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gateway.DecryptResponse{DecryptedData: data})
}

package http

import (
	"net/http"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	envs, err := s.ledger.ListEnvelopes(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Message("Envelopes received").Data(toEnvelopeDTOs(envs)).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.TotalBudget(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Message("Budget summary").
		Data(summaryDTO{Envelopes: sum.Envelopes, TotalBudget: sum.Total.StringFixed(core.Scale)}).
		Write(w)
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	in, err := parseEnvelopeInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	env, err := s.ledger.CreateEnvelope(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/envelopes/"+itoa(env.ID)).
		Message("Envelope created").
		Data(toEnvelopeDTO(env)).
		Write(w)
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	env, err := s.ledger.GetEnvelope(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Message("Envelope received").Data(toEnvelopeDTO(env)).Write(w)
}

func (s *Server) handleUpdateEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := parseEnvelopeInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	env, err := s.ledger.UpdateEnvelope(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Message("Envelope updated").Data(toEnvelopeDTO(env)).Write(w)
}

func (s *Server) handleDeleteEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ledger.DeleteEnvelope(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := req.Amount.require("amount")
	if err != nil {
		writeError(w, r, err)
		return
	}

	receipt, err := s.ledger.Withdraw(r.Context(), id, ledger.WithdrawInput{
		Amount:    amount,
		Reference: req.Reference,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Message("Withdrawal recorded").
		Data(toReceiptDTO(receipt)).
		Write(w)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := req.Amount.require("amount")
	if err != nil {
		writeError(w, r, err)
		return
	}

	receipt, err := s.ledger.Transfer(r.Context(), ledger.TransferInput{
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Amount:        amount,
		Reference:     req.Reference,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Message("Transfer recorded").
		Data(toReceiptDTO(receipt)).
		Write(w)
}

func (s *Server) handleEnvelopeTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	txns, err := s.ledger.ListEnvelopeTransactions(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Message("Transactions received").Data(toTransactionDTOs(txns)).Write(w)
}

func parseEnvelopeInput(w http.ResponseWriter, r *http.Request) (ledger.EnvelopeInput, error) {
	var req envelopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return ledger.EnvelopeInput{}, err
	}
	budget, err := req.Budget.require("budget")
	if err != nil {
		return ledger.EnvelopeInput{}, err
	}
	return ledger.EnvelopeInput{Title: req.Title, Budget: budget}, nil
}

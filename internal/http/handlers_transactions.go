package http

import (
	"net/http"
	"strconv"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.ledger.ListTransactions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Message("Transactions received").Data(toTransactionDTOs(txns)).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	txn, err := s.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Message("Transaction received").Data(toTransactionDTO(txn)).Write(w)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

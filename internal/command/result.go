package command

import "github.com/labworkcell/orchestrator/internal/apierr"

// FailedBottle records one bottle's failing step within a command result,
// per spec.md §4.5 point 4.
type FailedBottle struct {
	BottleID string     `json:"bottle_id"`
	Step     string     `json:"step"`
	Code     apierr.Code `json:"code"`
}

// ResultDoc is the result document spec.md §4.5 point 5 specifies for
// PICK_UP, PUT_TO, and TAKE_BOTTOL_FROM_SP_TO_SP.
type ResultDoc struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	SuccessCount  int            `json:"success_count"`
	FailedBottles []FailedBottle `json:"failed_bottles"`
	Total         int            `json:"total"`
}

func newResultDoc(total int) *ResultDoc {
	return &ResultDoc{Total: total, FailedBottles: []FailedBottle{}}
}

func (r *ResultDoc) recordFailure(bottleID, step string, code apierr.Code) {
	r.FailedBottles = append(r.FailedBottles, FailedBottle{BottleID: bottleID, Step: step, Code: code})
}

func (r *ResultDoc) finalize() {
	r.Success = r.SuccessCount > 0 || r.Total == 0
	if r.Success {
		r.Message = "ok"
	} else {
		r.Message = "no bottles succeeded"
	}
}

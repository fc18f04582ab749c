package httpx

import (
	"net/http"

	"github.com/girderhq/girder/internal/shared"
)

// RespondError maps the ledger error taxonomy to RFC7807 responses. Fatal
// errors intentionally surface as 500s; they are invariant violations and
// must never be dressed up as client mistakes.
func RespondError(w http.ResponseWriter, err error) {
	switch shared.KindOf(err) {
	case shared.KindValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.KindConflict:
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case shared.KindState:
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case shared.KindReferential:
		Problem(w, http.StatusUnprocessableEntity, "Unknown Reference", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

package datatablehttp

import (
	"net/http"
	"strconv"

	"github.com/odyssey-erp/taskdesk/internal/shared"
)

// UserScope keys stores by the authenticated user.
func UserScope(r *http.Request) (string, error) {
	id, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		return "", ErrNoScope
	}
	return "user:" + strconv.FormatInt(id, 10), nil
}

package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrTransactionConflict means concurrent writers touched the same rows.
	// ClaimBatch treats it as an empty claim; the next cycle retries.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrAlreadyExists is returned when a unique index rejects a write.
	ErrAlreadyExists = errors.New("record already exists")
)

// queryErrorKinds maps lowercase fragments of SurrealDB error messages to
// the sentinel they represent.
var queryErrorKinds = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrAlreadyExists},
	{"already contains", ErrAlreadyExists},
	{"transaction conflict", ErrTransactionConflict},
}

// wrapQueryError wraps known SurrealDB query errors in a sentinel, keeping
// the server message. Other errors pass through.
func wrapQueryError(err error) error {
	var qe *surrealdb.QueryError
	if !errors.As(err, &qe) {
		return err
	}
	msg := strings.ToLower(qe.Message)
	for _, k := range queryErrorKinds {
		if strings.Contains(msg, k.fragment) {
			return fmt.Errorf("%w: %s", k.sentinel, qe.Message)
		}
	}
	return err
}

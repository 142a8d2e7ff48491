package eventstore

import (
	"git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = errors.EventStoreError("could not open event store database").Build()

	// ErrInitializeSchemaFailed indicates the database schema could not be initialized.
	ErrInitializeSchemaFailed = errors.EventStoreError("failed to initialize event store schema").Build()
)

func marshalErr(eventType, buildID string, err error) error {
	return errors.EventStoreError("failed to marshal "+eventType+" payload").
		WithCause(err).
		WithContext("build_id", buildID).
		Build()
}

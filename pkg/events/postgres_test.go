package events

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

func TestPostgresSink_Publish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ev := &model.Event{
		ID: "6b0f6a58-3d1e-4b8f-9d55-9f1d3c1a2b10", TenantID: "acme", Type: ActionCreated,
		ResourceType: ResourceAction, ResourceID: "a-1", Message: "created",
		Metadata: map[string]string{"ds": "ds-1"}, CreatedAt: t0,
	}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "rollout_events"`)).
		WithArgs(ev.ID, "acme", ActionCreated, ResourceAction, "a-1", "created", []byte(`{"ds":"ds-1"}`), t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink := NewPostgresSink(db, "")
	require.NoError(t, sink.Publish(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "audit"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresSink(db, "audit").Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	later := t0.Add(time.Minute)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "type", "resource_type", "resource_id", "message", "metadata", "created_at"}).
		AddRow("e-2", "acme", RolloutFinished, ResourceRollout, "r-1", "", nil, later).
		AddRow("e-1", "acme", RolloutStarted, ResourceRollout, "r-1", "", []byte(`{"groups":"3"}`), t0)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "rollout_events" WHERE tenant_id = $1`)).
		WithArgs("acme", 10).
		WillReturnRows(rows)

	list, err := NewPostgresSink(db, "").List(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, RolloutFinished, list[0].Type)
	assert.Equal(t, "3", list[1].Metadata["groups"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_PublishError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO").WillReturnError(assert.AnError)
	err = NewPostgresSink(db, "").Publish(context.Background(), &model.Event{ID: "e", CreatedAt: t0})
	require.ErrorIs(t, err, assert.AnError)
}

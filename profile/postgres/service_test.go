//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeptutor/memory-go/profile"
	"github.com/deeptutor/memory-go/session"
	storage "github.com/deeptutor/memory-go/storage/postgres"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS user_profiles").
		WillReturnResult(sqlmock.NewResult(0, 0))
	svc, err := NewService(context.Background(), WithClient(storage.NewClient(db)))
	require.NoError(t, err)
	return svc, mock
}

func profilePayload(t *testing.T, p *profile.Profile) []byte {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	return payload
}

func TestGetProfile(t *testing.T) {
	svc, mock := newTestService(t)
	stored := profile.NewProfile("user-1")
	stored.Preferences.Language = "de"

	mock.ExpectQuery("SELECT payload FROM user_profiles WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(profilePayload(t, stored)))

	p, err := svc.GetProfile(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "de", p.Preferences.Language)

	mock.ExpectQuery("SELECT payload FROM user_profiles WHERE user_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err = svc.GetProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)

	_, err = svc.GetProfile(context.Background(), "")
	assert.ErrorIs(t, err, profile.ErrUserIDRequired)
}

func TestGetOrCreateProfileInsertsDefault(t *testing.T) {
	svc, mock := newTestService(t)
	fresh := profile.NewProfile("user-1")

	mock.ExpectQuery("SELECT payload FROM user_profiles WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectExec("INSERT INTO user_profiles").
		WithArgs("user-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT payload FROM user_profiles WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(profilePayload(t, fresh)))

	p, err := svc.GetOrCreateProfile(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, profile.DefaultPreferences(), p.Preferences)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSummaryTransactionalMerge(t *testing.T) {
	svc, mock := newTestService(t)
	existing := profile.NewProfile("user-1")
	existing.KnowledgePoints["fractions"] = &profile.KnowledgePoint{
		Concept:          "fractions",
		MasteryLevel:     0.2,
		ConfusionScore:   80,
		InteractionCount: 1,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payload FROM user_profiles WHERE user_id .* FOR UPDATE").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(profilePayload(t, existing)))
	mock.ExpectExec("INSERT INTO user_profiles").
		WithArgs("user-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := svc.IngestSummary(context.Background(), &session.Summary{
		SessionID:    "sess-1",
		UserID:       "user-1",
		MessageCount: 20,
		WeakPoints: []session.WeakPoint{
			{Concept: "fractions", ConfusionScore: 20},
		},
	})
	require.NoError(t, err)
	// 0.3*0.8 + 0.7*0.2, computed inside the row lock.
	assert.InDelta(t, 0.38, p.KnowledgePoints["fractions"].MasteryLevel, 0.001)
	assert.Equal(t, 20.0, p.KnowledgePoints["fractions"].ConfusionScore)
	assert.Equal(t, 2, p.KnowledgePoints["fractions"].InteractionCount)
	assert.Equal(t, 1, p.Statistics.TotalSessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSummaryCreatesMissingProfile(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payload FROM user_profiles WHERE user_id .* FOR UPDATE").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectExec("INSERT INTO user_profiles").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := svc.IngestSummary(context.Background(), &session.Summary{
		SessionID:    "sess-1",
		UserID:       "user-1",
		MessageCount: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, profile.DefaultPreferences(), p.Preferences)
	assert.Equal(t, 1, p.Statistics.TotalSessions)
}

func TestUpdatePreferencesRejectedPatchRollsBack(t *testing.T) {
	svc, mock := newTestService(t)
	existing := profile.NewProfile("user-1")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payload FROM user_profiles WHERE user_id .* FOR UPDATE").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(profilePayload(t, existing)))
	mock.ExpectRollback()

	_, err := svc.UpdatePreferences(context.Background(), "user-1", map[string]any{
		"favorite_color": "blue",
	})
	require.ErrorIs(t, err, profile.ErrUnknownPreferenceKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProfile(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectExec("DELETE FROM user_profiles WHERE user_id").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.DeleteProfile(context.Background(), "user-1"))
	assert.ErrorIs(t, svc.DeleteProfile(context.Background(), ""), profile.ErrUserIDRequired)
}

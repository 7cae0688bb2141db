/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package store is the persistence layer of the control plane: last-known
// vehicle state, monitoring cases, special-charging sessions, the cached
// off-peak plan hash, and the named token secrets. All writes are
// single-document upserts keyed by VIN, session id, or secret name.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
)

// Interface is the state-store capability used by Scout and Worker.
type Interface interface {
	LastKnown(ctx context.Context, vin string) (*LastKnownState, error)
	UpsertLastKnown(ctx context.Context, state *LastKnownState) error

	MonitoringCase(ctx context.Context, vin string) (*MonitoringCase, error)
	UpsertMonitoringCase(ctx context.Context, c *MonitoringCase) error
	DeleteMonitoringCase(ctx context.Context, vin string) error

	Session(ctx context.Context, sessionId string) (*SpecialSession, error)
	UpsertSession(ctx context.Context, session *SpecialSession) error
	SessionsByStatus(ctx context.Context, status string) ([]*SpecialSession, error)
	ActiveSessionForVin(ctx context.Context, vin string) (*SpecialSession, error)

	PlanHash(ctx context.Context, vin string) (string, error)
	SetPlanHash(ctx context.Context, vin, hash string) error

	Secret(ctx context.Context, name string) ([]byte, error)
	SetSecret(ctx context.Context, name string, payload []byte) error

	Reset(ctx context.Context) (*Stats, error)
	Stats(ctx context.Context) (*Stats, error)
}

// document is the common single-key JSON document shape of every collection.
type document struct {
	Key       string         `gorm:"primaryKey;column:key"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

type lastKnownDoc struct{ document }

func (lastKnownDoc) TableName() string { return "last_known_states" }

type monitoringCaseDoc struct{ document }

func (monitoringCaseDoc) TableName() string { return "monitoring_cases" }

type sessionDoc struct {
	document
	Vin    string `gorm:"column:vin;index"`
	Status string `gorm:"column:status;index"`
}

func (sessionDoc) TableName() string { return "special_sessions" }

type planHashDoc struct{ document }

func (planHashDoc) TableName() string { return "plan_hashes" }

type secretDoc struct{ document }

func (secretDoc) TableName() string { return "secrets" }

// Client is the Postgres-backed store. It keeps a gorm handle for the
// document collections and an sqlx handle for the read-side stats queries.
type Client struct {
	gorm *gorm.DB
	db   *sqlx.DB
}

var (
	once     sync.Once
	instance *Client
)

// NewClient creates the singleton Postgres store from configuration.
// Returns nil when the connection or migration fails; callers treat that as
// fatal at startup.
func NewClient() *Client {
	once.Do(func() {
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
			config.GetDBHost(), config.GetDBPort(), config.GetDBUser(), config.GetDBPassword(),
			config.GetDBName(), config.GetDBSslMode(), config.GetDBConnectTimeoutSecond())
		gormDb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			klog.ErrorS(err, "failed to open gorm connection")
			return
		}
		if err = gormDb.AutoMigrate(&lastKnownDoc{}, &monitoringCaseDoc{}, &sessionDoc{}, &planHashDoc{}, &secretDoc{}); err != nil {
			klog.ErrorS(err, "failed to migrate state store")
			return
		}
		db, err := sqlx.Connect("postgres", dsn)
		if err != nil {
			klog.ErrorS(err, "failed to open sqlx connection")
			return
		}
		db.SetMaxOpenConns(config.GetDBMaxOpenConns())
		db.SetMaxIdleConns(config.GetDBMaxIdleConns())
		instance = &Client{gorm: gormDb, db: db}
		klog.Infof("state store ready, host: %s db: %s", config.GetDBHost(), config.GetDBName())
	})
	return instance
}

func (c *Client) getDoc(ctx context.Context, model interface{}, key string, out interface{}) error {
	doc := document{}
	err := c.gorm.WithContext(ctx).Model(model).Where("key = ?", key).Take(&doc).Error
	if err == gorm.ErrRecordNotFound {
		return commonerrors.NewNotFound(fmt.Sprintf("document %s not found", key))
	}
	if err != nil {
		return commonerrors.NewInternalError("state store read failed").WithError(err)
	}
	return json.Unmarshal(doc.Payload, out)
}

// upsertDoc performs the atomic per-key upsert every collection relies on.
func (c *Client) upsertDoc(ctx context.Context, model interface{}, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return commonerrors.NewInternalError("state store marshal failed").WithError(err)
	}
	doc := document{Key: key, Payload: payload, UpdatedAt: time.Now().UTC()}
	err = c.gorm.WithContext(ctx).Model(model).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return commonerrors.NewInternalError("state store write failed").WithError(err)
	}
	return nil
}

func (c *Client) LastKnown(ctx context.Context, vin string) (*LastKnownState, error) {
	state := &LastKnownState{}
	if err := c.getDoc(ctx, &lastKnownDoc{}, vin, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (c *Client) UpsertLastKnown(ctx context.Context, state *LastKnownState) error {
	state.UpdatedAt = time.Now().UTC()
	return c.upsertDoc(ctx, &lastKnownDoc{}, state.Vin, state)
}

func (c *Client) MonitoringCase(ctx context.Context, vin string) (*MonitoringCase, error) {
	mc := &MonitoringCase{}
	if err := c.getDoc(ctx, &monitoringCaseDoc{}, vin, mc); err != nil {
		return nil, err
	}
	return mc, nil
}

func (c *Client) UpsertMonitoringCase(ctx context.Context, mc *MonitoringCase) error {
	return c.upsertDoc(ctx, &monitoringCaseDoc{}, mc.Vin, mc)
}

func (c *Client) DeleteMonitoringCase(ctx context.Context, vin string) error {
	err := c.gorm.WithContext(ctx).Where("key = ?", vin).Delete(&monitoringCaseDoc{}).Error
	if err != nil {
		return commonerrors.NewInternalError("failed to delete monitoring case").WithError(err)
	}
	return nil
}

func (c *Client) Session(ctx context.Context, sessionId string) (*SpecialSession, error) {
	session := &SpecialSession{}
	if err := c.getDoc(ctx, &sessionDoc{}, sessionId, session); err != nil {
		if commonerrors.IsNotFound(err) {
			return nil, commonerrors.NewSessionNotFound(sessionId)
		}
		return nil, err
	}
	return session, nil
}

func (c *Client) UpsertSession(ctx context.Context, session *SpecialSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return commonerrors.NewInternalError("session marshal failed").WithError(err)
	}
	doc := sessionDoc{
		document: document{Key: session.SessionId, Payload: payload, UpdatedAt: time.Now().UTC()},
		Vin:      session.Vin,
		Status:   session.Status,
	}
	err = c.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at", "vin", "status"}),
	}).Create(&doc).Error
	if err != nil {
		return commonerrors.NewInternalError("session write failed").WithError(err)
	}
	return nil
}

func (c *Client) SessionsByStatus(ctx context.Context, status string) ([]*SpecialSession, error) {
	var docs []sessionDoc
	err := c.gorm.WithContext(ctx).Where("status = ?", status).Find(&docs).Error
	if err != nil {
		return nil, commonerrors.NewInternalError("session query failed").WithError(err)
	}
	sessions := make([]*SpecialSession, 0, len(docs))
	for _, doc := range docs {
		session := &SpecialSession{}
		if err := json.Unmarshal(doc.Payload, session); err != nil {
			return nil, commonerrors.NewInternalError("session unmarshal failed").WithError(err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (c *Client) ActiveSessionForVin(ctx context.Context, vin string) (*SpecialSession, error) {
	var docs []sessionDoc
	err := c.gorm.WithContext(ctx).Where("vin = ? AND status = ?", vin, SessionActive).Limit(1).Find(&docs).Error
	if err != nil {
		return nil, commonerrors.NewInternalError("session query failed").WithError(err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	session := &SpecialSession{}
	if err := json.Unmarshal(docs[0].Payload, session); err != nil {
		return nil, commonerrors.NewInternalError("session unmarshal failed").WithError(err)
	}
	return session, nil
}

type planHashValue struct {
	Hash string `json:"hash"`
}

func (c *Client) PlanHash(ctx context.Context, vin string) (string, error) {
	value := planHashValue{}
	if err := c.getDoc(ctx, &planHashDoc{}, vin, &value); err != nil {
		if commonerrors.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return value.Hash, nil
}

func (c *Client) SetPlanHash(ctx context.Context, vin, hash string) error {
	return c.upsertDoc(ctx, &planHashDoc{}, vin, planHashValue{Hash: hash})
}

type secretValue struct {
	Payload []byte `json:"payload"`
}

func (c *Client) Secret(ctx context.Context, name string) ([]byte, error) {
	value := secretValue{}
	if err := c.getDoc(ctx, &secretDoc{}, name, &value); err != nil {
		return nil, err
	}
	return value.Payload, nil
}

func (c *Client) SetSecret(ctx context.Context, name string, payload []byte) error {
	return c.upsertDoc(ctx, &secretDoc{}, name, secretValue{Payload: payload})
}

// Reset purges monitoring state: last-known states, monitoring cases and
// plan hashes. Sessions and secrets survive a reset.
func (c *Client) Reset(ctx context.Context) (*Stats, error) {
	before, err := c.Stats(ctx)
	if err != nil {
		return nil, err
	}
	for _, model := range []interface{}{&lastKnownDoc{}, &monitoringCaseDoc{}, &planHashDoc{}} {
		if err := c.gorm.WithContext(ctx).Where("key <> ''").Delete(model).Error; err != nil {
			return nil, commonerrors.NewInternalError("reset failed").WithError(err)
		}
	}
	return before, nil
}

// Stats assembles the read-side summary with plain SQL; squirrel keeps the
// counting queries out of string concatenation.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table string
		where sq.Sqlizer
		dest  *int
	}{
		{"last_known_states", nil, &stats.LastKnownStates},
		{"monitoring_cases", nil, &stats.MonitoringCases},
		{"special_sessions", nil, &stats.Sessions},
		{"special_sessions", sq.Eq{"status": SessionActive}, &stats.ActiveSessions},
		{"plan_hashes", nil, &stats.PlanHashes},
	}
	for _, count := range counts {
		builder := sq.Select("COUNT(*)").From(count.table).PlaceholderFormat(sq.Dollar)
		if count.where != nil {
			builder = builder.Where(count.where)
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return nil, commonerrors.NewInternalError("stats query build failed").WithError(err)
		}
		if err := c.db.GetContext(ctx, count.dest, query, args...); err != nil {
			return nil, commonerrors.NewInternalError("stats query failed").WithError(err)
		}
	}
	return stats, nil
}

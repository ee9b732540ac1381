package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

type sessionData struct {
	ID        string
	StartTime time.Time
	EndTime   sql.NullTime
	CSVPath   string
	Rows      int64
	Config    sql.NullString
}

func (d *sessionData) session() *survey.Session {
	s := survey.Session{
		ID:        d.ID,
		StartTime: d.StartTime,
		CSVPath:   d.CSVPath,
		Rows:      d.Rows,
	}
	if d.EndTime.Valid {
		s.EndTime = d.EndTime.Time
	}
	if d.Config.Valid {
		s.Config = &d.Config.String
	}
	return &s
}

type readingData struct {
	SessionID    string
	Timestamp    int64
	Latitude     sql.NullFloat64
	Longitude    sql.NullFloat64
	Accuracy     sql.NullFloat64
	SIM1Operator string
	SIM1DBm      sql.NullInt64
	SIM2Operator string
	SIM2DBm      sql.NullInt64
}

func toReadingData(sessionID string, r survey.Reading) *readingData {
	d := readingData{
		SessionID:    sessionID,
		Timestamp:    r.Timestamp.UnixMilli(),
		SIM1Operator: r.SIM1.Operator,
		SIM1DBm:      toNullInt64(r.SIM1.DBm),
		SIM2Operator: r.SIM2.Operator,
		SIM2DBm:      toNullInt64(r.SIM2.DBm),
	}
	if r.Location != nil {
		d.Latitude = sql.NullFloat64{Float64: r.Location.Latitude, Valid: true}
		d.Longitude = sql.NullFloat64{Float64: r.Location.Longitude, Valid: true}
		d.Accuracy = toNullFloat64(r.Location.Accuracy)
	}
	return &d
}

func (d *readingData) reading() survey.Reading {
	r := survey.Reading{
		Timestamp: time.UnixMilli(d.Timestamp).UTC(),
		SIM1: survey.SignalSample{
			Slot:     survey.SlotSIM1,
			Operator: d.SIM1Operator,
			DBm:      fromNullInt64(d.SIM1DBm),
		},
		SIM2: survey.SignalSample{
			Slot:     survey.SlotSIM2,
			Operator: d.SIM2Operator,
			DBm:      fromNullInt64(d.SIM2DBm),
		},
	}
	if d.Latitude.Valid && d.Longitude.Valid {
		r.Location = &survey.Location{
			Latitude:  d.Latitude.Float64,
			Longitude: d.Longitude.Float64,
		}
		if d.Accuracy.Valid {
			acc := d.Accuracy.Float64
			r.Location.Accuracy = &acc
		}
	}
	return r
}

package datalog

import (
	"strconv"
	"strings"
	"time"
)

// Log types, each backed by its own stream per session
const (
	TypeMessage    = "message"
	TypeClickedObj = "clickedObj"
)

// Headers written once when a session's streams are established.
//
// The clickedObj header is the one the experiment has always declared. Rows
// only fill the eight ClickRecord columns, and the run-together names
// (clickLocLalt1Status, alt1LocLalt2Status) are part of the historical format.
const (
	MessageHeader    = "gameid,time,roundNum,sender,contents"
	ClickedObjHeader = "gameid,time,roundNum,condition," +
		"clickStatus,clickColH,clickColS,clickColL,clickLocS,clickLocL" +
		"alt1Status,alt1ColH,alt1ColS,alt1ColL,alt1LocS,alt1LocL" +
		"alt2Status,alt2ColH,alt2ColS,alt2ColL,alt2LocS,alt2LocL" +
		"targetD1Diff,targetD2Diff,D1D2Diff,outcome"
)

// Headers maps each log type to its header line
var Headers = map[string]string{
	TypeMessage:    MessageHeader,
	TypeClickedObj: ClickedObjHeader,
}

// ClickRecord is one row of the clickedObj log
type ClickRecord struct {
	SessionID    string
	Time         time.Time
	RoundNum     int // 1-based
	Occurrence   int
	IntendedName string
	ClickedName  string
	ObjBox       string
}

// Correct reports whether the clicked object is the intended target
func (r ClickRecord) Correct() bool {
	return r.ClickedName == r.IntendedName
}

// Fields returns the row in column order
func (r ClickRecord) Fields() []string {
	correct := "0"
	if r.Correct() {
		correct = "1"
	}
	return []string{
		r.SessionID,
		strconv.FormatInt(r.Time.UnixMilli(), 10),
		strconv.Itoa(r.RoundNum),
		strconv.Itoa(r.Occurrence),
		r.IntendedName,
		r.ClickedName,
		r.ObjBox,
		correct,
	}
}

// MessageRecord is one row of the message log
type MessageRecord struct {
	SessionID    string
	Time         time.Time
	RoundNum     int // 1-based
	Occurrence   int
	Role         string
	IntendedName string
	TimeElapsed  string
	Msg          string
}

// Fields returns the row in column order
func (r MessageRecord) Fields() []string {
	return []string{
		r.SessionID,
		strconv.FormatInt(r.Time.UnixMilli(), 10),
		strconv.Itoa(r.RoundNum),
		strconv.Itoa(r.Occurrence),
		r.Role,
		r.IntendedName,
		r.TimeElapsed,
		r.Msg,
	}
}

// Line joins fields with commas. Fields are written as-is, without CSV
// quoting, matching the existing data files.
func Line(fields []string) string {
	return strings.Join(fields, ",")
}

// LongFormTime renders t as year-month-day-hour-minute-second without zero
// padding, the prefix used for data file names.
func LongFormTime(t time.Time) string {
	return t.Format("2006-1-2-15-4-5")
}

// FileName is the per-session data file name shared by all log types
func FileName(started time.Time, sessionID string) string {
	return LongFormTime(started) + "_" + sessionID + ".csv"
}

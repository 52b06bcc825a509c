// Package export renders item lists into Excel workbooks for handover to
// practice staff.
package export

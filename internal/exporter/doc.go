// Package exporter writes count, overlap, selection and cache tables as CSV
// or XLSX.
//
// Tables are built from the views the UI already receives (events.StackCount,
// events.ExperimentCounts, events.StackView) so an export always matches
// what was last broadcast. EncodeCSV and EncodeXLSX stream to any writer;
// Writer.SaveCSV and Writer.SaveXLSX store files in the exports directory.
//
//	t := exporter.CountsTable(session.LatestCounts())
//	err := exporter.EncodeXLSX(w, "counts", t)
package exporter

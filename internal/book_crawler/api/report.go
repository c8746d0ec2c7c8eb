package api

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/helper"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

const (
	reportName  = "daily_change_report"
	reportSheet = "Changes"
	xlsxMIME    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var reportHeader = []string{"item_id", "timestamp", "field_changed", "old_value", "new_value"}

// report 最近 24 小时的变更
func (s *Server) report(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" && format != "xlsx" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be one of json, csv, xlsx"})
		return
	}

	since := helper.ReportWindowStart(s.clock())
	changes, err := s.Repo.ChangesSince(c.Request.Context(), since)
	if err != nil {
		s.Log.Error("Failed to load change report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load changes"})
		return
	}

	switch format {
	case "csv":
		var buf bytes.Buffer
		if err := WriteCSV(&buf, changes); err != nil {
			s.Log.Error("Failed to render CSV report", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render report"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+reportName+".csv")
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
	case "xlsx":
		var buf bytes.Buffer
		if err := WriteXLSX(&buf, changes); err != nil {
			s.Log.Error("Failed to render XLSX report", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render report"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+reportName+".xlsx")
		c.Data(http.StatusOK, xlsxMIME, buf.Bytes())
	default:
		c.JSON(http.StatusOK, gin.H{"since": since, "count": len(changes), "data": changes})
	}
}

func reportRow(e model.ChangeEntry) []string {
	return []string{e.ItemID, e.Timestamp.UTC().Format(time.RFC3339), e.FieldChanged, e.OldValue, e.NewValue}
}

// WriteCSV 表头 + 每条变更一行；没有变更时只有表头
func WriteCSV(w io.Writer, changes []model.ChangeEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, e := range changes {
		if err := cw.Write(reportRow(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX 与 CSV 相同的列，写在 Changes 工作表
func WriteXLSX(w io.Writer, changes []model.ChangeEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return err
	}

	header := make([]interface{}, len(reportHeader))
	for i, h := range reportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(reportSheet, "A1", &header); err != nil {
		return err
	}

	for i, e := range changes {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := reportRow(e)
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

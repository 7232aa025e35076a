package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/fileflow/pkg/recordstore"
)

// NewRecordStore builds the Airtable client. Missing credentials are reported
// when an airtable step runs, not at startup.
func NewRecordStore(apiURL, apiKey, baseID string, timeout time.Duration, logger *slog.Logger) recordstore.Client {
	if apiKey == "" || baseID == "" {
		logger.Warn("Airtable credentials missing; airtable steps will fail")
	}

	return recordstore.NewAirtable(recordstore.AirtableConfig{
		BaseURL: apiURL,
		BaseID:  baseID,
		APIKey:  apiKey,
		Timeout: timeout,
	}, logger)
}

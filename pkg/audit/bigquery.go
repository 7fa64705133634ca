package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BigQueryConfig holds configuration for the BigQuery audit sink.
type BigQueryConfig struct {
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: Path to a service account JSON file.
}

// NewBigQueryClient creates a BigQuery client suitable for production
// environments, using Application Default Credentials unless a
// credentials file is configured.
func NewBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQuerySink streams audit records into a BigQuery table. If the table
// does not exist it is created with a schema inferred from Record.
type BigQuerySink struct {
	client   *bigquery.Client
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQuerySink creates a sink for the configured table, creating the
// table on first use if necessary.
func NewBigQuerySink(
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryConfig,
	logger zerolog.Logger,
) (*BigQuerySink, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}

	logger = logger.With().
		Str("component", "BigQuerySink").
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	_, err := tableRef.Metadata(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "notFound") {
			logger.Warn().Msg("Audit table not found. Creating with inferred schema.")
			inferredSchema, inferErr := bigquery.InferSchema(Record{})
			if inferErr != nil {
				return nil, fmt.Errorf("failed to infer audit record schema: %w", inferErr)
			}
			if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: inferredSchema}); createErr != nil {
				return nil, fmt.Errorf("failed to create audit table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
			}
			logger.Info().Msg("Audit table created.")
		} else {
			return nil, fmt.Errorf("failed to get audit table metadata: %w", err)
		}
	}

	return &BigQuerySink{
		client:   client,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams a batch of audit records to BigQuery. Row-level
// failures are logged individually for debugging.
func (s *BigQuerySink) InsertBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	err := s.inserter.Put(ctx, records)
	if err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				s.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}
	return nil
}

// Close is a no-op; the underlying BigQuery client's lifecycle is managed
// by the service that created it.
func (s *BigQuerySink) Close() error {
	return nil
}

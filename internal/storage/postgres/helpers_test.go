// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the records table. Defined in the
// postgres package (not the _test package) so it has access to the
// unexported db field.
func (s *RecordStore) TruncateForTest(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE records RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("postgres: failed to truncate records: %w", err)
	}
	return nil
}

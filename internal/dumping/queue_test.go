package dumping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/provdump/provdump/internal/orm"
)

func TestProcessingQueue_AppendPartitionsByKind(t *testing.T) {
	var q ProcessingQueue
	q.Append(&orm.Node{Kind: orm.KindWorkflow, PK: 1})
	q.Append(&orm.Node{Kind: orm.KindCalculation, PK: 2})
	q.Append(&orm.Node{Kind: orm.KindCalculation, PK: 3})

	assert.Len(t, q.Calculations, 2)
	assert.Len(t, q.Workflows, 1)
	assert.Equal(t, 3, q.Len())
	assert.False(t, q.IsEmpty())

	// Calculations come before workflows in the combined view.
	all := q.All()
	assert.Equal(t, int64(2), all[0].PK)
	assert.Equal(t, int64(1), all[2].PK)
}

func TestProcessingQueue_SortByCTime(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var q ProcessingQueue
	q.Append(&orm.Node{Kind: orm.KindCalculation, PK: 3, CTime: base.Add(2 * time.Hour)})
	q.Append(&orm.Node{Kind: orm.KindCalculation, PK: 2, CTime: base})
	q.Append(&orm.Node{Kind: orm.KindCalculation, PK: 1, CTime: base})

	q.SortByCTime()

	// CTime ascending, PK as tie-break.
	assert.Equal(t, int64(1), q.Calculations[0].PK)
	assert.Equal(t, int64(2), q.Calculations[1].PK)
	assert.Equal(t, int64(3), q.Calculations[2].PK)
}

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		multiLabel bool
		want       []string
	}{
		{false, []string{"accuracy"}},
		{true, []string{"accuracy_thresh", "roc_auc", "fbeta"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Names(Select(tt.multiLabel)), "multi_label=%v", tt.multiLabel)
	}
}

func TestSelectReturnsCopy(t *testing.T) {
	m := Select(true)
	m[0].Thresh = 0.9
	assert.Equal(t, 0.5, Select(true)[0].Thresh)
}

package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[int64]*model.Company

func (f fakeResolver) CompanyByID(_ context.Context, id int64) (*model.Company, error) {
	c, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("company %d: %w", id, persistence.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func TestTaskIntake_Run(t *testing.T) {
	in := make(chan *string, 10)
	out := make(chan *model.Company, 10)
	dlq := &fakeDLQ{}
	wg := &sync.WaitGroup{}
	intake := &TaskIntake{
		InputSqsChan: in,
		OutputChan:   out,
		Companies: fakeResolver{
			1: {ID: 1, Name: "Acme", Domain: "acme.com"},
			2: {ID: 2, Name: "Beta", Website: "https://beta.io"},
		},
		KafkaDLQ: dlq,
		Wg:       wg,
	}
	for _, m := range []string{
		`{"company_id": 1, "priority": 5}`,
		`{"company_id": 2, "domain": "https://www.Beta.io/"}`,
		`not json`,
		`{"domain": "acme.com"}`,
		`{"company_id": 404}`,
	} {
		msg := m
		in <- &msg
	}
	close(in)

	wg.Add(1)
	intake.Run()

	var got []*model.Company
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "acme.com", got[0].Domain)
	assert.Equal(t, "beta.io", got[1].Domain)

	require.Equal(t, 3, dlq.count())
	assert.Equal(t, "not json", dlq.payloads[0])
	for _, err := range dlq.errs {
		assert.ErrorIs(t, err, ErrInvalidTask)
	}
	assert.ErrorIs(t, dlq.errs[2], persistence.ErrNotFound)
}

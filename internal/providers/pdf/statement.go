package pdf

import (
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
)

type StatementLine struct {
	Reference    string
	TriggerEvent string
	Amount       decimal.Decimal
	Status       string
	CreatedAt    time.Time
}

type StatementData struct {
	BrokerID    string
	TotalEarned decimal.Decimal
	Pending     decimal.Decimal
	Approved    decimal.Decimal
	Paid        decimal.Decimal
	GeneratedAt time.Time
	Lines       []StatementLine
}

// StatementRenderer renders broker earnings statements.
type StatementRenderer struct{}

func NewStatementRenderer() *StatementRenderer {
	return &StatementRenderer{}
}

func (r *StatementRenderer) RenderCommissionStatement(data StatementData) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(12, "Commission Statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Broker: "+data.BrokerID, props.Text{Top: 0}),
			text.New("Generated: "+data.GeneratedAt.Format("2006-01-02"), props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Total earned: "+data.TotalEarned.StringFixed(2), props.Text{Top: 0, Align: align.Right}),
			text.New("Paid: "+data.Paid.StringFixed(2), props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(4, "Reference", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Event", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Status", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(4, line.Reference, props.Text{Size: 8}),
			text.NewCol(3, line.TriggerEvent, props.Text{Size: 8}),
			text.NewCol(2, line.Status, props.Text{Size: 8}),
			text.NewCol(3, line.Amount.StringFixed(2), props.Text{Size: 8, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Pending", props.Text{Size: 9}),
		text.NewCol(3, data.Pending.StringFixed(2), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Approved", props.Text{Size: 9}),
		text.NewCol(3, data.Approved.StringFixed(2), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Paid", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, data.Paid.StringFixed(2), props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

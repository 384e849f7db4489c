package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type marotoRenderer struct{}

func New() Renderer {
	return &marotoRenderer{}
}

func newDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func (r *marotoRenderer) RenderInvoice(ctx context.Context, doc Document) ([]byte, error) {
	m := newDocument()

	m.AddRow(12,
		text.NewCol(8, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, doc.Status, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+doc.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+doc.IssueDate, props.Text{Top: 4}),
			text.New("Date due: "+doc.DueDate, props.Text{Top: 8}),
		),
		col.New(6),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New(doc.OrgName, props.Text{Style: fontstyle.Bold}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(doc.BillToName, props.Text{Top: 5}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, doc.BalanceDue+" due "+doc.DueDate, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	addItemsTable(m, doc.Lines)
	addTotals(m, doc, true)

	if doc.Notes != "" {
		m.AddRow(20,
			text.NewCol(12, doc.Notes, props.Text{Size: 9, Top: 5}),
		)
	}

	if doc.PayURL != "" {
		m.AddRow(8,
			text.NewCol(12, "Scan to pay online", props.Text{Size: 9, Top: 2}),
		)
		m.AddRow(35,
			code.NewQrCol(3, doc.PayURL, props.Rect{
				Center:  false,
				Percent: 90,
			}),
			col.New(9),
		)
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}

func (r *marotoRenderer) RenderReceipt(ctx context.Context, doc Document) ([]byte, error) {
	m := newDocument()

	m.AddRow(12,
		text.NewCol(12, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(16,
		col.New(6).Add(
			text.New("Invoice number: "+doc.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date paid: "+doc.PaidDate, props.Text{Top: 4}),
		),
		col.New(6),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New(doc.OrgName, props.Text{Style: fontstyle.Bold}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(doc.BillToName, props.Text{Top: 5}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, doc.AmountPaid+" paid on "+doc.PaidDate, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	addItemsTable(m, doc.Lines)
	addTotals(m, doc, false)

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}

func addItemsTable(m core.Maroto, lines []Line) {
	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range lines {
		m.AddRow(10,
			text.NewCol(6, line.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", line.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.UnitAmount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
}

func addTotals(m core.Maroto, doc Document, withBalance bool) {
	addTotalRow(m, "Subtotal", doc.Subtotal, false)
	if doc.Tax != "" {
		addTotalRow(m, "Tax", doc.Tax, false)
	}
	if doc.Discount != "" {
		addTotalRow(m, "Discount", "-"+doc.Discount, false)
	}
	addTotalRow(m, "Total", doc.Total, false)
	if doc.Gratuity != "" {
		addTotalRow(m, "Gratuity", doc.Gratuity, false)
	}
	if doc.AmountPaid != "" {
		addTotalRow(m, "Amount paid", doc.AmountPaid, false)
	}
	if withBalance {
		addTotalRow(m, "Amount due", doc.BalanceDue, true)
	}
}

func addTotalRow(m core.Maroto, label, value string, bold bool) {
	style := fontstyle.Normal
	if bold {
		style = fontstyle.Bold
	}
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, label, props.Text{Size: 9, Style: style}),
		text.NewCol(2, value, props.Text{Size: 9, Style: style, Align: align.Right}),
	)
}

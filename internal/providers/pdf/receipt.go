package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrMissingReceiptNumber = errors.New("receipt number is required")

// ReceiptData is a rent payment already formatted for print.
type ReceiptData struct {
	ReceiptNumber        string
	IssuedAt             string
	TenantName           string
	TenantPhone          string
	RoomNumber           string
	Block                string
	LeaseID              string
	MonthYear            string
	PaymentDate          string
	PaymentMethod        string
	TransactionReference string
	Amount               string
	Status               string

	// Month standing after this payment, if known.
	ExpectedAmount string
	PaidToDate     string
	MonthStatus    string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if receipt.ReceiptNumber == "" {
		return nil, ErrMissingReceiptNumber
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Rent receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, p.issuer, props.Text{
			Size:  11,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Issued: "+receipt.IssuedAt, props.Text{Top: 4}),
			text.New("Rent month: "+receipt.MonthYear, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Received from", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.TenantName, props.Text{Top: 5, Align: align.Right}),
			text.New(receipt.TenantPhone, props.Text{Top: 9, Align: align.Right}),
		),
	)

	room := receipt.RoomNumber
	if receipt.Block != "" {
		room = receipt.Block + " / " + room
	}
	m.AddRow(10,
		text.NewCol(12, "Room "+room+", lease "+receipt.LeaseID, props.Text{Size: 9}),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Amount+" received on "+receipt.PaymentDate, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(4, "Method", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(5, "Reference", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Status", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))
	m.AddRow(10,
		text.NewCol(4, receipt.PaymentMethod, props.Text{Size: 9}),
		text.NewCol(5, receipt.TransactionReference, props.Text{Size: 9}),
		text.NewCol(3, receipt.Status, props.Text{Size: 9, Align: align.Right}),
	)

	if receipt.MonthStatus != "" {
		m.AddRow(10,
			col.New(8),
			text.NewCol(2, "Expected", props.Text{Size: 9}),
			text.NewCol(2, receipt.ExpectedAmount, props.Text{Size: 9, Align: align.Right}),
		)
		m.AddRow(10,
			col.New(8),
			text.NewCol(2, "Paid to date", props.Text{Size: 9}),
			text.NewCol(2, receipt.PaidToDate, props.Text{Size: 9, Align: align.Right}),
		)
		m.AddRow(10,
			col.New(8),
			text.NewCol(2, "Month status", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, receipt.MonthStatus, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

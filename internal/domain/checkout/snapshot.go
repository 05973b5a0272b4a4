package checkout

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// SnapshotItem is one purchased line as stored in session metadata.
//
// The snapshot is a JSON array of {"id","quantity","price"} objects, price in
// currency units. It is the only input used to build the order on finalize.
type SnapshotItem struct {
	ID       string
	Quantity int
	Price    decimal.Decimal
}

// EncodeSnapshot serializes items for the products metadata key.
func EncodeSnapshot(items []SnapshotItem) string {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Num(jx.Num(it.Price.String()))
		e.ObjEnd()
	}
	e.ArrEnd()
	return string(e.Bytes())
}

// DecodeSnapshot parses the products metadata value. A missing quantity
// defaults to 1. Price may be a JSON number or a numeric string.
func DecodeSnapshot(s string) ([]SnapshotItem, error) {
	if s == "" {
		return nil, errors.New("empty products snapshot")
	}

	var items []SnapshotItem
	d := jx.DecodeStr(s)
	if err := d.Arr(func(d *jx.Decoder) error {
		it := SnapshotItem{Quantity: 1}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id", "_id":
				v, err := d.Str()
				if err != nil {
					return errors.Wrap(err, "id")
				}
				it.ID = v
			case "quantity":
				if d.Next() == jx.Null {
					return d.Null()
				}
				v, err := d.Int()
				if err != nil {
					return errors.Wrap(err, "quantity")
				}
				it.Quantity = v
			case "price":
				v, err := decodePrice(d)
				if err != nil {
					return errors.Wrap(err, "price")
				}
				it.Price = v
			default:
				return d.Skip()
			}
			return nil
		}); err != nil {
			return err
		}
		if it.ID == "" {
			return errors.Errorf("item %d: missing id", len(items))
		}
		items = append(items, it)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode products snapshot")
	}
	if len(items) == 0 {
		return nil, errors.New("empty products snapshot")
	}
	return items, nil
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("unexpected type %s", d.Next())
	}
}

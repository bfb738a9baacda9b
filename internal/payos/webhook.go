package payos

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/secondhand-orders/internal/domain/payment"
)

// ParseWebhook decodes a gateway callback without verifying it. Every data
// field is kept in its string form so the signature can be recomputed.
func (c *Client) ParseWebhook(raw []byte) (*payment.Webhook, error) {
	w := &payment.Webhook{}
	var hasData bool

	d := jx.DecodeBytes(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			w.Code, err = decodeScalar(d)
		case "desc":
			w.Description, err = decodeScalar(d)
		case "success":
			w.Success, err = d.Bool()
		case "signature":
			w.Signature, err = d.Str()
		case "data":
			hasData = true
			w.Data, err = decodeData(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	}); err != nil {
		return nil, errors.Wrap(err, "decode webhook")
	}

	if !hasData {
		return nil, errors.New("webhook has no data")
	}
	if w.Signature == "" {
		return nil, errors.New("webhook has no signature")
	}

	code, err := strconv.ParseInt(w.Data["orderCode"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "data.orderCode")
	}
	w.OrderCode = code
	if v := w.Data["amount"]; v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "data.amount")
		}
		w.Amount = amount
	}
	w.Reference = w.Data["reference"]
	return w, nil
}

// VerifyWebhook recomputes the data signature and compares it in constant
// time.
func (c *Client) VerifyWebhook(w *payment.Webhook) payment.WebhookResult {
	if w == nil || w.Data == nil || w.Signature == "" {
		return payment.Rejected{Reason: payment.RejectMalformed, Err: errors.New("incomplete webhook")}
	}
	expected := sign(c.cfg.ChecksumKey, dataSignatureData(w.Data))
	if !equalSignature(expected, w.Signature) {
		return payment.Rejected{Reason: payment.RejectBadSignature, Err: errors.New("signature mismatch")}
	}
	return payment.Verified{
		OrderCode:   strconv.FormatInt(w.OrderCode, 10),
		Amount:      w.Amount,
		Reference:   w.Reference,
		Description: w.Description,
	}
}

func decodeData(d *jx.Decoder) (map[string]string, error) {
	fields := make(map[string]string)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		v, err := decodeScalar(d)
		if err != nil {
			return errors.Wrapf(err, "data.%s", key)
		}
		fields[string(key)] = v
		return nil
	}); err != nil {
		return nil, err
	}
	return fields, nil
}

// decodeScalar renders any JSON value as the string the gateway signs: strings
// unquoted, numbers and booleans as written, null as empty, and nested values
// as raw JSON.
func decodeScalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		r, err := d.Raw()
		if err != nil {
			return "", err
		}
		return r.String(), nil
	}
}

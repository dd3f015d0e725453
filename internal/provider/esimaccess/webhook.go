package esimaccess

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"esimflow/internal/domain/notification"
	"esimflow/internal/provider"
)

// signHex computes the HMAC-SHA256 hex digest used for both outbound request
// signing and inbound webhook validation.
func signHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks the RT-Signature header against the raw payload.
// Pure function, no side effects.
func (a *Adapter) ValidateSignature(payload []byte, signature string) provider.SignatureResult {
	if signature == "" {
		return provider.SignatureResult{Valid: false, Reason: "missing signature header"}
	}
	expected := signHex(a.creds.APISecret, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return provider.SignatureResult{Valid: false, Reason: "signature mismatch"}
	}
	return provider.SignatureResult{Valid: true}
}

type esimProfile struct {
	ICCID          string `json:"iccid"`
	QRCode         string `json:"qrCode"`
	QRCodeURL      string `json:"qrCodeUrl"`
	SmDpAddr       string `json:"smDpAddr"`
	ActivationCode string `json:"ac"`
	ShortURL       string `json:"shortUrl"`
}

type webhookEnvelope struct {
	NotifyType string `json:"notifyType"`
	Content    struct {
		OrderNo       string        `json:"orderNo"`
		TransactionID string        `json:"transactionId"`
		OrderStatus   string        `json:"orderStatus"`
		FailReason    string        `json:"failReason"`
		EsimList      []esimProfile `json:"esimList"`

		ICCID     string `json:"iccid"`
		Remain    int64  `json:"remain"`
		Total     int64  `json:"totalVolume"`
		Threshold int64  `json:"threshold"`
		ExpiredAt string `json:"expiredTime"`
	} `json:"content"`
}

// ParsePayload normalizes an eSIM Access webhook into the canonical shape.
// Extra fields are ignored and missing fields stay zero; well-formed JSON
// never fails here, it normalizes to Type=unknown instead.
func (a *Adapter) ParsePayload(payload []byte) (*provider.Webhook, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}

	switch env.NotifyType {
	case "ORDER_STATUS":
		wh := &provider.Webhook{
			Type:            notification.TypeOrderStatus,
			RequestID:       env.Content.TransactionID,
			ProviderOrderID: env.Content.OrderNo,
			Profiles:        mapProfiles(env.Content.EsimList),
			ErrorMessage:    env.Content.FailReason,
		}
		switch env.Content.OrderStatus {
		case "ALLOCATED", "GOT_RESOURCE":
			wh.Status = provider.StatusCompleted
		case "FAILED", "CANCEL":
			wh.Status = provider.StatusFailed
		}
		if len(wh.Profiles) > 0 {
			wh.ICCID = wh.Profiles[0].ICCID
		}
		return wh, nil

	case "DATA_USAGE":
		return &provider.Webhook{
			Type:  notification.TypeLowData,
			ICCID: env.Content.ICCID,
			Data: provider.WebhookData{
				Threshold:     env.Content.Threshold,
				DataRemaining: env.Content.Remain,
				TotalData:     env.Content.Total,
				ExpiryDate:    env.Content.ExpiredAt,
			},
		}, nil
	}

	return &provider.Webhook{Type: notification.TypeUnknown}, nil
}

func mapProfiles(in []esimProfile) []provider.Profile {
	var out []provider.Profile
	for _, p := range in {
		prof := provider.Profile{
			ICCID:          p.ICCID,
			QRCode:         p.QRCode,
			QRCodeURL:      p.QRCodeURL,
			SMDPAddress:    p.SmDpAddr,
			ActivationCode: p.ActivationCode,
		}
		if p.ShortURL != "" {
			prof.Extras = map[string]string{"shortUrl": p.ShortURL}
		}
		out = append(out, prof)
	}
	return out
}

package service

import (
	"encoding/base64"
	"encoding/json"

	"github.com/linemk/market-checkout/internal/domain/models"
)

type threeDSContent struct {
	ThreeDSHTMLContent string `json:"threeDSHtmlContent"`
}

// PatchAuthorizeResponse переносит форму 3-D Secure из ответа провайдера в RedirectURL.
// Провайдер отдаёт форму в base64; если декодировать не вышло, берём как есть.
func PatchAuthorizeResponse(res *models.GatewayResult) *models.GatewayResult {
	if res == nil || len(res.Raw) == 0 {
		return res
	}

	var content threeDSContent
	if err := json.Unmarshal(res.Raw, &content); err != nil || content.ThreeDSHTMLContent == "" {
		return res
	}

	if decoded, err := base64.StdEncoding.DecodeString(content.ThreeDSHTMLContent); err == nil {
		res.RedirectURL = string(decoded)
	} else {
		res.RedirectURL = content.ThreeDSHTMLContent
	}
	return res
}

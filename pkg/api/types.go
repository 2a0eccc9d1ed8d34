package api

// uploadCoinRequest is one coin in the upload request body.
type uploadCoinRequest struct {
	KeyID        string `json:"key_id"`
	CoinCategory string `json:"coin_category"`
	PublicKeyB64 string `json:"public_key_b64"`
	SignatureB64 string `json:"signature_b64"`
}

// uploadRequest is the /v1/coins/upload request body.
type uploadRequest struct {
	UserID string              `json:"user_id"`
	Coins  []uploadCoinRequest `json:"coins"`
}

// uploadResponse is the /v1/coins/upload response body.
type uploadResponse struct {
	Inserted int `json:"inserted"`
}

// fetchedCoin is one coin in the fetch response body.
type fetchedCoin struct {
	KeyID        string `json:"key_id"`
	CoinCategory string `json:"coin_category"`
	PublicKeyB64 string `json:"public_key_b64"`
	SignatureB64 string `json:"signature_b64"`
}

// fetchResponse is the /v1/coins/fetch response body.
type fetchResponse struct {
	Coins []fetchedCoin `json:"coins"`
}

// countResponse is the /v1/coins/count response body.
type countResponse struct {
	Gold   int `json:"gold"`
	Silver int `json:"silver"`
	Bronze int `json:"bronze"`
}

// purgeStaleRequest is the /v1/admin/purge-stale request body.
type purgeStaleRequest struct {
	MaxAgeDays *int `json:"max_age_days,omitempty"`
}

// hardDeleteRequest is the /v1/admin/hard-delete request body.
type hardDeleteRequest struct {
	GraceHours *int `json:"grace_hours,omitempty"`
}

// deletedResponse is shared by both admin endpoints.
type deletedResponse struct {
	Deleted int `json:"deleted"`
}

// healthResponse is the /v1/health response body.
type healthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// errorResponse is the shape of every non-2xx response body.
type errorResponse struct {
	Error string `json:"error"`
}

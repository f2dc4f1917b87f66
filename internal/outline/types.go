package outline

// createKeyRequest тело POST /access-keys.
type createKeyRequest struct {
	Name      string     `json:"name"`
	DataLimit *dataLimit `json:"dataLimit,omitempty"`
}

// dataLimit лимит трафика ключа в байтах.
type dataLimit struct {
	Bytes int64 `json:"bytes"`
}

// createKeyResponse ответ сервера на создание ключа.
type createKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Password  string `json:"password"`
	Port      int    `json:"port"`
	Method    string `json:"method"`
	AccessURL string `json:"accessUrl"`
}

// Key выданный сервером ключ доступа.
type Key struct {
	ID        string
	Name      string
	AccessURL string
}

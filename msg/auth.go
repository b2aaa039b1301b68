package msg

// Auth opens the admission handshake. Sent by a worker as its first
// message.
type Auth struct {
	OTP      string `json:"otp"`
	WorkerID string `json:"worker_id"`
	Hostname string `json:"hostname"`
}

func (*Auth) Kind() Type { return TypeAuth }

// AuthResponse answers an Auth. On success it carries the session key the
// worker must adopt for every following frame.
type AuthResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	EncryptionKey Bytes  `json:"encryption_key,omitempty"`
}

func (*AuthResponse) Kind() Type { return TypeAuthResponse }

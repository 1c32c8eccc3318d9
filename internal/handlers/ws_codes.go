// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Token missing, invalid or expired.
	ReplacedError         = 3002 // A newer connection for the same player took over.
)

package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

// NewHTTPClient builds the shared resty client used by all adapters.
// Retries are disabled: a resend after an ambiguous failure could deliver twice.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	return client
}

func prepareClient(client *resty.Client) *resty.Client {
	if client == nil {
		return NewHTTPClient(defaultTimeout)
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)
	return client
}

// postJSON performs one POST and splits the result into transport failure,
// non-2xx response, or success. The returned body is trimmed.
func postJSON(ctx context.Context, req *resty.Request, endpoint string, body any) (int, string, error) {
	response, err := req.
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return 0, "", transportError(endpoint, err)
	}
	if response == nil {
		return 0, "", &ProviderError{
			Kind:      KindTransport,
			Message:   "provider returned empty response",
			Transient: true,
			Endpoint:  endpoint,
		}
	}

	return response.StatusCode(), strings.TrimSpace(response.String()), nil
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

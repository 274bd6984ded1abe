package kvs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	signingService = "kinesisvideo"
	// the service rejects presigned connect URLs valid for 300s or more
	PresignExpiry = 299 * time.Second
	// sha256 of the empty body
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// PresignURL signs the websocket endpoint with SigV4 query authentication.
// clientID is only sent for viewers.
func PresignURL(ctx context.Context, creds aws.Credentials, endpoint, channelARN, clientID, region string, now time.Time) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("X-Amz-ChannelARN", channelARN)
	if clientID != "" {
		q.Set("X-Amz-ClientId", clientID)
	}
	q.Set("X-Amz-Expires", strconv.Itoa(int(PresignExpiry/time.Second)))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	signed, _, err := v4.NewSigner().PresignHTTP(ctx, creds, req, emptyPayloadHash, signingService, region, now)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", u.Host, err)
	}
	return signed, nil
}

package agent

import (
	"strings"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
)

// Role is the side of the signaling channel this process plays.
type Role string

const (
	RoleMaster Role = "MASTER"
	RoleViewer Role = "VIEWER"
)

const (
	// MasterPeerID keys the viewer's single entry; KVS addresses the master by this id.
	MasterPeerID = "MASTER"
	// BroadcastPeerID keys the master's template connection until an answer binds it.
	// "*" is outside the KVS client id alphabet so it cannot collide with a viewer.
	BroadcastPeerID = "*"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleMaster:
		return RoleMaster, nil
	case RoleViewer:
		return RoleViewer, nil
	}
	return "", apperrors.NewAppErrorf(apperrors.ErrCodeInvalidRole, "unknown role %q", s)
}

func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleViewer
}

func (r Role) String() string { return string(r) }

// CredentialBundle is everything needed to reach a signaling channel.
// Static keys are optional; without them the default AWS credential chain applies.
type CredentialBundle struct {
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty"`
	Region          string `json:"region"`
	ChannelName     string `json:"channelName"`
	ClientID        string `json:"clientId,omitempty"`
}

func (b CredentialBundle) Validate() error {
	if strings.TrimSpace(b.Region) == "" {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "region is required")
	}
	if strings.TrimSpace(b.ChannelName) == "" {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "channel name is required")
	}
	if (b.AccessKeyID == "") != (b.SecretAccessKey == "") {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "access key id and secret access key must be set together")
	}
	if b.SessionToken != "" && b.AccessKeyID == "" {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "session token requires static keys")
	}
	return nil
}

func (b CredentialBundle) HasStaticKeys() bool {
	return b.AccessKeyID != "" && b.SecretAccessKey != ""
}

// Redacted masks secrets for logs and API responses.
func (b CredentialBundle) Redacted() CredentialBundle {
	out := b
	if out.AccessKeyID != "" {
		out.AccessKeyID = mask(out.AccessKeyID)
	}
	if out.SecretAccessKey != "" {
		out.SecretAccessKey = "****"
	}
	if out.SessionToken != "" {
		out.SessionToken = "****"
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

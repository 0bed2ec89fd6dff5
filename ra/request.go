package ra

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
)

// RequestInfo describes the session a handle is requested for.  Managed
// connections only serve requests equal to the one they were created for.
type RequestInfo struct {
	UserName        string
	Password        string
	ClientID        string
	Type            SessionType
	Transacted      bool
	AcknowledgeMode jms.AckMode
}

func NewRequestInfo(typ SessionType, transacted bool, mode jms.AckMode) *RequestInfo {
	if transacted {
		mode = jms.SessionTransacted
	}
	return &RequestInfo{Type: typ, Transacted: transacted, AcknowledgeMode: mode}
}

// Fills in the credentials and client id the request leaves empty.
func (r *RequestInfo) SetDefaults(p Properties) {
	if r.UserName == "" {
		r.UserName = p.UserName
	}
	if r.Password == "" {
		r.Password = p.Password
	}
	if r.ClientID == "" {
		r.ClientID = p.ClientID
	}
}

func (r *RequestInfo) Equals(o spi.ConnectionRequestInfo) bool {
	other, ok := o.(*RequestInfo)
	if !ok || other == nil {
		return false
	}
	return *r == *other
}

func (r *RequestInfo) String() string {
	return fmt.Sprintf("RequestInfo(type=%v, user=%v, client=%v, transacted=%v, ack=%v)",
		r.Type, r.UserName, r.ClientID, r.Transacted, r.AcknowledgeMode)
}

func (r *RequestInfo) copy() *RequestInfo {
	cp := *r
	return &cp
}

func toRequestInfo(info spi.ConnectionRequestInfo) (*RequestInfo, error) {
	if info == nil {
		return &RequestInfo{AcknowledgeMode: jms.AutoAcknowledge}, nil
	}
	ret, ok := info.(*RequestInfo)
	if !ok || ret == nil {
		return nil, errors.Wrapf(spi.IllegalStateError, "Unsupported request info [%T]", info)
	}
	return ret.copy(), nil
}

type credential struct {
	name     string
	password string
}

// Credentials come from the subject when the container supplies one,
// otherwise from the request.
func resolveCredential(mcf *ManagedConnectionFactory, subject *spi.Subject, info *RequestInfo) (credential, error) {
	if subject == nil {
		if info == nil {
			return credential{}, nil
		}
		return credential{info.UserName, info.Password}, nil
	}

	pc, ok := subject.CredentialFor(mcf)
	if !ok {
		return credential{}, errors.Wrap(spi.SecurityError, "No password credential found for factory")
	}
	return credential{pc.UserName, pc.Password}, nil
}

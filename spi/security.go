package spi

// A password credential is scoped to the managed connection factory it
// was issued for.
type PasswordCredential struct {
	UserName string
	Password string
	Factory  ManagedConnectionFactory
}

// A subject carries the credentials the container resolved for a request.
type Subject struct {
	Principals  []string
	Credentials []PasswordCredential
}

func NewSubject(creds ...PasswordCredential) *Subject {
	ret := &Subject{Credentials: creds}
	for _, c := range creds {
		ret.Principals = append(ret.Principals, c.UserName)
	}
	return ret
}

// Returns the credential issued for the factory.
func (s *Subject) CredentialFor(mcf ManagedConnectionFactory) (PasswordCredential, bool) {
	if s == nil {
		return PasswordCredential{}, false
	}
	for _, c := range s.Credentials {
		if c.Factory != nil && mcf.Equals(c.Factory) {
			return c, true
		}
	}
	return PasswordCredential{}, false
}

package jms

type TextMessage interface {
	Message
	Text() (string, error)
	SetText(string) error
}

type BaseTextMessage struct {
	BaseMessage
	text string
}

func NewTextMessage(text string) *BaseTextMessage {
	return &BaseTextMessage{BaseMessage: *NewMessage(), text: text}
}

func (m *BaseTextMessage) Text() (string, error) {
	return m.text, nil
}

func (m *BaseTextMessage) SetText(text string) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	m.text = text
	return nil
}

func (m *BaseTextMessage) ClearBody() error {
	m.text = ""
	return m.BaseMessage.ClearBody()
}

// ObjectMessage carries a single value.  Providers that cross a process
// boundary support only values their wire encoding can carry.
type ObjectMessage interface {
	Message
	Object() (interface{}, error)
	SetObject(interface{}) error
}

type BaseObjectMessage struct {
	BaseMessage
	obj interface{}
}

func NewObjectMessage(obj interface{}) *BaseObjectMessage {
	return &BaseObjectMessage{BaseMessage: *NewMessage(), obj: obj}
}

func (m *BaseObjectMessage) Object() (interface{}, error) {
	return m.obj, nil
}

func (m *BaseObjectMessage) SetObject(obj interface{}) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	m.obj = obj
	return nil
}

func (m *BaseObjectMessage) ClearBody() error {
	m.obj = nil
	return m.BaseMessage.ClearBody()
}

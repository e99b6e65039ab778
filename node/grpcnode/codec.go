package grpcnode

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"xdao.co/boards/node"
)

func listStrings(l *structpb.ListValue) ([]string, error) {
	out := make([]string, 0, len(l.GetValues()))
	for i, v := range l.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("grpcnode: list item %d is not a string", i)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func encodeLinks(links []node.Link) *structpb.ListValue {
	l := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(links))}
	for _, k := range links {
		l.Values = append(l.Values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":    structpb.NewStringValue(k.Name),
			"address": structpb.NewStringValue(k.Address),
		}}))
	}
	return l
}

func decodeLinks(l *structpb.ListValue) ([]node.Link, error) {
	out := make([]node.Link, 0, len(l.GetValues()))
	for i, v := range l.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("grpcnode: link %d is not an object", i)
		}
		out = append(out, node.Link{
			Name:    st.GetFields()["name"].GetStringValue(),
			Address: st.GetFields()["address"].GetStringValue(),
		})
	}
	return out, nil
}

func encodeMessage(m node.Message) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"from":  structpb.NewStringValue(m.From),
		"topic": structpb.NewStringValue(m.Topic),
		"data":  structpb.NewStringValue(base64.StdEncoding.EncodeToString(m.Data)),
	}}
}

func decodeMessage(s *structpb.Struct) (node.Message, error) {
	f := s.GetFields()
	data, err := base64.StdEncoding.DecodeString(f["data"].GetStringValue())
	if err != nil {
		return node.Message{}, fmt.Errorf("grpcnode: message data: %w", err)
	}
	m := node.Message{
		From:  f["from"].GetStringValue(),
		Topic: f["topic"].GetStringValue(),
		Data:  data,
	}
	if m.Topic == "" {
		return node.Message{}, fmt.Errorf("grpcnode: message without topic")
	}
	return m, nil
}

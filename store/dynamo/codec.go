package dynamo

import (
	"fmt"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// toAV converts a dynatx.AttributeValue into its aws-sdk-go-v2 wire representation.
func toAV(v dynatx.AttributeValue) (ddbtypes.AttributeValue, error) {
	switch v.Type {
	case dynatx.TypeS:
		return &ddbtypes.AttributeValueMemberS{Value: v.Str}, nil
	case dynatx.TypeN:
		return &ddbtypes.AttributeValueMemberN{Value: v.Str}, nil
	case dynatx.TypeB:
		return &ddbtypes.AttributeValueMemberB{Value: v.Bin}, nil
	case dynatx.TypeSS:
		return &ddbtypes.AttributeValueMemberSS{Value: v.SS}, nil
	case dynatx.TypeNS:
		return &ddbtypes.AttributeValueMemberNS{Value: v.NS}, nil
	case dynatx.TypeBS:
		return &ddbtypes.AttributeValueMemberBS{Value: v.BS}, nil
	default:
		return nil, fmt.Errorf("dynamo: unsupported attribute type %q", v.Type)
	}
}

// fromAV converts an aws-sdk-go-v2 wire attribute value into a dynatx.AttributeValue.
func fromAV(v ddbtypes.AttributeValue) (dynatx.AttributeValue, error) {
	switch t := v.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return dynatx.S(t.Value), nil
	case *ddbtypes.AttributeValueMemberN:
		return dynatx.N(t.Value), nil
	case *ddbtypes.AttributeValueMemberB:
		return dynatx.B(t.Value), nil
	case *ddbtypes.AttributeValueMemberSS:
		return dynatx.SSet(t.Value...), nil
	case *ddbtypes.AttributeValueMemberNS:
		return dynatx.NSet(t.Value...), nil
	case *ddbtypes.AttributeValueMemberBS:
		return dynatx.BSet(t.Value...), nil
	default:
		return dynatx.AttributeValue{}, fmt.Errorf("dynamo: unsupported wire attribute value %T", v)
	}
}

func toAVMap(item dynatx.Item) (map[string]ddbtypes.AttributeValue, error) {
	out := make(map[string]ddbtypes.AttributeValue, len(item))
	for name, v := range item {
		av, err := toAV(v)
		if err != nil {
			return nil, err
		}
		out[name] = av
	}
	return out, nil
}

func fromAVMap(m map[string]ddbtypes.AttributeValue) (dynatx.Item, error) {
	out := make(dynatx.Item, len(m))
	for name, v := range m {
		dv, err := fromAV(v)
		if err != nil {
			return nil, err
		}
		out[name] = dv
	}
	return out, nil
}

func scalarType(t dynatx.AttrType) (ddbtypes.ScalarAttributeType, error) {
	switch t {
	case dynatx.TypeS:
		return ddbtypes.ScalarAttributeTypeS, nil
	case dynatx.TypeN:
		return ddbtypes.ScalarAttributeTypeN, nil
	case dynatx.TypeB:
		return ddbtypes.ScalarAttributeTypeB, nil
	default:
		return "", fmt.Errorf("dynamo: key attribute type %q is not scalar", t)
	}
}

func fromScalarType(t ddbtypes.ScalarAttributeType) dynatx.AttrType {
	switch t {
	case ddbtypes.ScalarAttributeTypeN:
		return dynatx.TypeN
	case ddbtypes.ScalarAttributeTypeB:
		return dynatx.TypeB
	default:
		return dynatx.TypeS
	}
}

func keyType(t store.KeyType) ddbtypes.KeyType {
	if t == store.KeyTypeRange {
		return ddbtypes.KeyTypeRange
	}
	return ddbtypes.KeyTypeHash
}

func fromKeyType(t ddbtypes.KeyType) store.KeyType {
	if t == ddbtypes.KeyTypeRange {
		return store.KeyTypeRange
	}
	return store.KeyTypeHash
}

package service

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/vendor"
)

type Product string

const (
	ProductAirtime     Product = "airtime"
	ProductData        Product = "data"
	ProductTV          Product = "tv"
	ProductElectricity Product = "electricity"
)

// product describes how one purchasable product is validated, ordered from the
// vendor and recorded.
type product struct {
	name           string
	code           Product
	kind           vendor.Kind
	retryNotPorted bool
	validate       func(req *PurchaseRequest) error
	fields         func(req *PurchaseRequest, ported bool) map[string]string
	productType    func(req *PurchaseRequest) string
	metadata       func(req *PurchaseRequest) domain.SpendMetadata
}

var products = map[Product]*product{
	ProductAirtime: {
		name:           "Airtime",
		code:           ProductAirtime,
		kind:           vendor.KindAirtime,
		retryNotPorted: true,
		validate: func(req *PurchaseRequest) error {
			if err := requireFields("network", req.Network, "phone_number", req.PhoneNumber); err != nil {
				return err
			}
			return validateNetwork(req)
		},
		fields: func(req *PurchaseRequest, ported bool) map[string]string {
			network, _ := vendor.NetworkID(req.Network)
			return map[string]string{
				"amount":   req.Amount.String(),
				"network":  itoa(network),
				"recipent": req.PhoneNumber,
				"ported":   boolString(ported),
			}
		},
		productType: func(req *PurchaseRequest) string { return networkLabel(req.Network) },
		metadata: func(req *PurchaseRequest) domain.SpendMetadata {
			return domain.SpendMetadata{PhoneNumber: req.PhoneNumber}
		},
	},
	ProductData: {
		name:           "Data",
		code:           ProductData,
		kind:           vendor.KindData,
		retryNotPorted: true,
		validate: func(req *PurchaseRequest) error {
			if err := requireFields("network", req.Network, "phone_number", req.PhoneNumber, "plan_id", req.PlanID); err != nil {
				return err
			}
			return validateNetwork(req)
		},
		fields: func(req *PurchaseRequest, ported bool) map[string]string {
			network, _ := vendor.NetworkID(req.Network)
			return map[string]string{
				"network":  itoa(network),
				"plan_id":  req.PlanID,
				"recipent": req.PhoneNumber,
				"ported":   boolString(ported),
			}
		},
		productType: func(req *PurchaseRequest) string { return networkLabel(req.Network) },
		metadata: func(req *PurchaseRequest) domain.SpendMetadata {
			return domain.SpendMetadata{PhoneNumber: req.PhoneNumber, PlanName: req.PlanName}
		},
	},
	ProductTV: {
		name: "TV Subscription",
		code: ProductTV,
		kind: vendor.KindCable,
		validate: func(req *PurchaseRequest) error {
			return requireFields(
				"provider", req.TVProvider,
				"smart_card_number", req.SmartCardNumber,
				"plan_code", req.PlanCode,
			)
		},
		fields: func(req *PurchaseRequest, _ bool) map[string]string {
			return map[string]string{
				"network_name":      strings.ToLower(req.TVProvider),
				"smart_card_number": req.SmartCardNumber,
				"plan":              req.PlanCode + "::" + req.Amount.String(),
				"registered_name":   req.CustomerName,
			}
		},
		productType: func(req *PurchaseRequest) string { return strings.ToUpper(req.TVProvider) },
		metadata: func(req *PurchaseRequest) domain.SpendMetadata {
			return domain.SpendMetadata{PlanName: req.PlanName, CustomerName: req.CustomerName, MeterNumber: req.SmartCardNumber}
		},
	},
	ProductElectricity: {
		name: "Electricity",
		code: ProductElectricity,
		kind: vendor.KindElectricity,
		validate: func(req *PurchaseRequest) error {
			return requireFields(
				"distributor_id", req.DistributorID,
				"meter_number", req.MeterNumber,
				"meter_type", req.MeterType,
				"phone_number", req.PhoneNumber,
			)
		},
		fields: func(req *PurchaseRequest, _ bool) map[string]string {
			return map[string]string{
				"distributor_id": req.DistributorID,
				"meter_number":   req.MeterNumber,
				"meter_type":     strings.ToLower(req.MeterType),
				"amount":         req.Amount.String(),
				"phone_number":   req.PhoneNumber,
			}
		},
		productType: func(req *PurchaseRequest) string { return strings.ToLower(req.MeterType) },
		metadata: func(req *PurchaseRequest) domain.SpendMetadata {
			return domain.SpendMetadata{
				PhoneNumber:  req.PhoneNumber,
				MeterNumber:  req.MeterNumber,
				MeterType:    strings.ToLower(req.MeterType),
				CustomerName: req.CustomerName,
			}
		},
	},
}

// failCode builds the stable code clients branch on, e.g. "airtime03".
func (p *product) failCode(code string) string {
	return string(p.code) + code
}

func lookupProduct(name string) (*product, error) {
	p, ok := products[Product(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, errors.NewAppErrorf(errors.InvalidInput, "unknown product %q", name)
	}
	return p, nil
}

// requireFields takes name, value pairs and reports the first blank value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return errors.NewAppErrorf(errors.InvalidInput, "%s is required", pairs[i])
		}
	}
	return nil
}

func validateNetwork(req *PurchaseRequest) error {
	if _, ok := vendor.NetworkID(req.Network); !ok {
		return errors.NewAppErrorf(errors.InvalidInput, "unknown network %q", req.Network)
	}
	return nil
}

func networkLabel(network string) string {
	id, ok := vendor.NetworkID(network)
	if !ok {
		return network
	}
	return strings.ToUpper(vendor.NetworkName(id))
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Exponent() >= -2
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

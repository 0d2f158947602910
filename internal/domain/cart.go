package domain

import (
	"errors"
	"time"
)

var ErrItemNotFound = errors.New("item not found in cart")

type DeliveryMethod string

const (
	DeliveryPickup  DeliveryMethod = "pickup"
	DeliveryCourier DeliveryMethod = "delivery"
)

const defaultDelivery = DeliveryPickup

func (d DeliveryMethod) Valid() bool {
	return d == DeliveryPickup || d == DeliveryCourier
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentSBP  PaymentMethod = "sbp"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentSBP:
		return true
	}
	return false
}

// ProductSnapshot is a copy of the catalog display fields taken when the
// product was put into the cart. It is not refreshed afterwards.
type ProductSnapshot struct {
	ID          int64  `json:"id"`
	Image       string `json:"image"`
	Alt         string `json:"alt,omitempty"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Description string `json:"description,omitempty"`
}

type CartItem struct {
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
}

// CartState is everything a user has selected for the order in progress.
type CartState struct {
	CartItems       []CartItem     `json:"cartItems"`
	DeliveryMethod  DeliveryMethod `json:"deliveryMethod"`
	PaymentMethod   *PaymentMethod `json:"paymentMethod"`
	SelectedAddress string         `json:"selectedAddress"`
	Timestamp       time.Time      `json:"timestamp"`
}

func NewCartState() CartState {
	return CartState{
		CartItems:      []CartItem{},
		DeliveryMethod: defaultDelivery,
	}
}

func (c *CartState) IsEmpty() bool {
	return len(c.CartItems) == 0
}

func (c *CartState) indexOf(productID int64) int {
	for i := range c.CartItems {
		if c.CartItems[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

// Add puts one unit of product into the cart. A product already in the cart
// gets its quantity incremented instead of a second entry.
func (c *CartState) Add(product ProductSnapshot) {
	if i := c.indexOf(product.ID); i >= 0 {
		c.CartItems[i].Quantity++
		return
	}
	c.CartItems = append(c.CartItems, CartItem{Product: product, Quantity: 1})
}

func (c *CartState) Increase(productID int64) error {
	i := c.indexOf(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.CartItems[i].Quantity++
	return nil
}

// Decrease takes one unit away; the item is removed when its quantity drops to zero.
func (c *CartState) Decrease(productID int64) error {
	i := c.indexOf(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	if c.CartItems[i].Quantity <= 1 {
		c.removeAt(i)
		return nil
	}
	c.CartItems[i].Quantity--
	return nil
}

func (c *CartState) Remove(productID int64) error {
	i := c.indexOf(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.removeAt(i)
	return nil
}

func (c *CartState) removeAt(i int) {
	c.CartItems = append(c.CartItems[:i], c.CartItems[i+1:]...)
}

// Empty drops all items but keeps delivery and payment selections.
func (c *CartState) Empty() {
	c.CartItems = []CartItem{}
}

func (c *CartState) Quantity(productID int64) int {
	if i := c.indexOf(productID); i >= 0 {
		return c.CartItems[i].Quantity
	}
	return 0
}

func (c *CartState) ProductIDs() []int64 {
	ids := make([]int64, len(c.CartItems))
	for i, item := range c.CartItems {
		ids[i] = item.Product.ID
	}
	return ids
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c CartState) Clone() CartState {
	out := c
	out.CartItems = make([]CartItem, len(c.CartItems))
	copy(out.CartItems, c.CartItems)
	if c.PaymentMethod != nil {
		p := *c.PaymentMethod
		out.PaymentMethod = &p
	}
	return out
}

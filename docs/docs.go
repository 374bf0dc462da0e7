// Package docs holds the OpenAPI description served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/checkout": {
            "post": {
                "tags": [
                    "checkout"
                ],
                "summary": "Check out a cart",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/checkout.Result"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "502": {
                        "description": "Bad Gateway",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "Idempotency-Key",
                        "in": "header",
                        "description": "Replays return the first result"
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/checkout.Request"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/checkout/attempts/{key}": {
            "get": {
                "tags": [
                    "checkout"
                ],
                "summary": "Checkout attempt by idempotency key",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/checkout.Attempt"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "key",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            }
        },
        "/orders/expired-payment-deadlines": {
            "get": {
                "tags": [
                    "orders"
                ],
                "summary": "Unpaid orders past their payment deadline",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/order.Order"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "integer",
                        "name": "limit",
                        "in": "query"
                    }
                ]
            }
        },
        "/orders/{orderId}": {
            "get": {
                "tags": [
                    "orders"
                ],
                "summary": "Order by id",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/order.Order"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "orderId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            }
        },
        "/orders/{orderId}/items": {
            "get": {
                "tags": [
                    "orders"
                ],
                "summary": "Items of an order",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/order.Item"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "orderId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            }
        },
        "/orders/{orderId}/verify-payment": {
            "put": {
                "tags": [
                    "orders"
                ],
                "summary": "Record manual verification of an order's payment",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/order.Order"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "orderId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/order.VerifyPaymentRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/orders/{orderId}/cancel": {
            "put": {
                "tags": [
                    "orders"
                ],
                "summary": "Cancel an order",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/order.Order"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "orderId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/order.CancelOrderRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/orders/{orderId}/pickup": {
            "put": {
                "tags": [
                    "orders"
                ],
                "summary": "Attach pickup details to an order",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/order.Order"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "orderId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/order.PickupDetails"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/payments/bank-details": {
            "get": {
                "tags": [
                    "payments"
                ],
                "summary": "Bank account to pay transfers into",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/settings.BankDetails"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                }
            }
        },
        "/payments/order/{orderId}": {
            "get": {
                "tags": [
                    "payments"
                ],
                "summary": "Payments recorded for an order",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/payment.Payment"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "orderId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            }
        },
        "/payments/verify/{paymentId}": {
            "put": {
                "tags": [
                    "payments"
                ],
                "summary": "Set the outcome of a manually verified payment",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/payment.Payment"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "paymentId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/main.verifyPaymentRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/payments/{paymentId}/upload-proof": {
            "post": {
                "tags": [
                    "payments"
                ],
                "summary": "Upload a proof of payment",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "paymentId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "type": "file",
                        "name": "file",
                        "in": "formData",
                        "required": true,
                        "description": "jpg, png, webp or pdf up to 10MB"
                    }
                ],
                "consumes": [
                    "multipart/form-data"
                ]
            }
        },
        "/cart": {
            "post": {
                "tags": [
                    "cart"
                ],
                "summary": "Create a cart",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/cart.Cart"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "body",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/main.createCartRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/cart/{id}": {
            "get": {
                "tags": [
                    "cart"
                ],
                "summary": "Cart by id",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/cart.Cart"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            },
            "delete": {
                "tags": [
                    "cart"
                ],
                "summary": "Remove every item from a cart",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/cart.Cart"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            }
        },
        "/cart/{id}/items": {
            "post": {
                "tags": [
                    "cart"
                ],
                "summary": "Add a product to a cart",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/cart.Cart"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/main.addItemRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/cart/{id}/items/{itemId}": {
            "put": {
                "tags": [
                    "cart"
                ],
                "summary": "Change a line's quantity",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/cart.Cart"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "type": "string",
                        "name": "itemId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/main.updateItemRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            },
            "delete": {
                "tags": [
                    "cart"
                ],
                "summary": "Remove a line",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/cart.Cart"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "type": "string",
                        "name": "itemId",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            }
        },
        "/settings/{category}": {
            "get": {
                "tags": [
                    "settings"
                ],
                "summary": "Settings of a category",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/settings.Value"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "category",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "type": "boolean",
                        "name": "includeSensitive",
                        "in": "query"
                    }
                ]
            }
        },
        "/settings/{category}/{key}": {
            "get": {
                "tags": [
                    "settings"
                ],
                "summary": "One setting; sensitive values are returned encrypted",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/settings.Value"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "category",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "type": "string",
                        "name": "key",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            },
            "put": {
                "tags": [
                    "settings"
                ],
                "summary": "Create or replace a setting",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/settings.Value"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpx.ErrorBody"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "category",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "type": "string",
                        "name": "key",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/settings.Input"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            },
            "delete": {
                "tags": [
                    "settings"
                ],
                "summary": "Delete a setting",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "category",
                        "in": "path",
                        "required": true,
                        "description": ""
                    },
                    {
                        "type": "string",
                        "name": "key",
                        "in": "path",
                        "required": true,
                        "description": ""
                    }
                ]
            }
        }
    },
    "definitions": {
        "httpx.ErrorBody": {
            "type": "object",
            "properties": {
                "kind": {
                    "type": "string",
                    "example": "invalid_input"
                },
                "message": {
                    "type": "string",
                    "example": "cart is empty"
                }
            }
        },
        "customer.Info": {
            "type": "object",
            "properties": {
                "email": {
                    "type": "string"
                },
                "firstName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "phone": {
                    "type": "string"
                }
            }
        },
        "customer.Address": {
            "type": "object",
            "properties": {
                "firstName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "line1": {
                    "type": "string"
                },
                "line2": {
                    "type": "string"
                },
                "city": {
                    "type": "string"
                },
                "state": {
                    "type": "string"
                },
                "postalCode": {
                    "type": "string"
                },
                "country": {
                    "type": "string"
                },
                "phone": {
                    "type": "string"
                }
            }
        },
        "order.PickupDetails": {
            "type": "object",
            "properties": {
                "pickupDate": {
                    "type": "string"
                },
                "pickupTime": {
                    "type": "string"
                },
                "collectorName": {
                    "type": "string"
                },
                "collectorPhone": {
                    "type": "string"
                },
                "collectorRelationship": {
                    "type": "string"
                },
                "idType": {
                    "type": "string"
                },
                "idNumber": {
                    "type": "string"
                },
                "vehicleInfo": {
                    "type": "string"
                },
                "specialInstructions": {
                    "type": "string"
                }
            }
        },
        "order.Totals": {
            "type": "object",
            "properties": {
                "subtotal": {
                    "type": "number"
                },
                "tax_amount": {
                    "type": "number"
                },
                "shipping_amount": {
                    "type": "number"
                },
                "discount_amount": {
                    "type": "number"
                },
                "total_amount": {
                    "type": "number"
                },
                "currency": {
                    "type": "string"
                }
            }
        },
        "checkout.Request": {
            "type": "object",
            "properties": {
                "cartId": {
                    "type": "string"
                },
                "customer": {
                    "$ref": "#/definitions/customer.Info"
                },
                "shippingAddress": {
                    "$ref": "#/definitions/customer.Address"
                },
                "billingAddress": {
                    "$ref": "#/definitions/customer.Address"
                },
                "paymentMethod": {
                    "type": "string",
                    "example": "bank_transfer"
                },
                "notes": {
                    "type": "string"
                },
                "pickupDetails": {
                    "$ref": "#/definitions/order.PickupDetails"
                },
                "idempotencyKey": {
                    "type": "string"
                }
            }
        },
        "checkout.Result": {
            "type": "object",
            "properties": {
                "attemptId": {
                    "type": "string"
                },
                "orderId": {
                    "type": "string"
                },
                "orderNumber": {
                    "type": "string",
                    "example": "ORD-20261015-K7Q2ZD"
                },
                "paymentStatus": {
                    "type": "string"
                },
                "paymentId": {
                    "type": "string"
                },
                "totals": {
                    "$ref": "#/definitions/order.Totals"
                },
                "paymentDeadline": {
                    "type": "string",
                    "format": "date-time"
                },
                "redirectUrl": {
                    "type": "string"
                },
                "requiresAction": {
                    "type": "boolean"
                }
            }
        },
        "checkout.Attempt": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "idempotencyKey": {
                    "type": "string"
                },
                "cartId": {
                    "type": "string"
                },
                "step": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "state": {
                    "type": "object"
                },
                "errorKind": {
                    "type": "string"
                },
                "errorMessage": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "updatedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "order.Order": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "order_number": {
                    "type": "string"
                },
                "customer_id": {
                    "type": "string"
                },
                "shipping_address_id": {
                    "type": "string"
                },
                "billing_address_id": {
                    "type": "string"
                },
                "notes": {
                    "type": "string"
                },
                "totals": {
                    "$ref": "#/definitions/order.Totals"
                },
                "status": {
                    "type": "string"
                },
                "payment_status": {
                    "type": "string"
                },
                "payment_method": {
                    "type": "string"
                },
                "payment_deadline": {
                    "type": "string",
                    "format": "date-time"
                },
                "pickup_details": {
                    "$ref": "#/definitions/order.PickupDetails"
                },
                "cancellation_reason": {
                    "type": "string"
                },
                "checkout_attempt_id": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "updated_at": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "order.Item": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "order_id": {
                    "type": "string"
                },
                "product_id": {
                    "type": "string"
                },
                "quantity": {
                    "type": "integer"
                },
                "unit_price": {
                    "type": "number"
                },
                "total_price": {
                    "type": "number"
                },
                "product_snapshot": {
                    "type": "object"
                }
            }
        },
        "order.VerifyPaymentRequest": {
            "type": "object",
            "properties": {
                "verified": {
                    "type": "boolean"
                }
            }
        },
        "order.CancelOrderRequest": {
            "type": "object",
            "properties": {
                "reason": {
                    "type": "string"
                }
            }
        },
        "payment.Payment": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "order_id": {
                    "type": "string"
                },
                "customer_id": {
                    "type": "string"
                },
                "amount": {
                    "type": "number"
                },
                "currency": {
                    "type": "string"
                },
                "payment_method": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "transaction_id": {
                    "type": "string"
                },
                "payment_proof_url": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "updated_at": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "settings.BankDetails": {
            "type": "object",
            "properties": {
                "bankName": {
                    "type": "string"
                },
                "accountName": {
                    "type": "string"
                },
                "accountNumber": {
                    "type": "string"
                },
                "routingNumber": {
                    "type": "string"
                },
                "swiftCode": {
                    "type": "string"
                },
                "instructions": {
                    "type": "string"
                },
                "paymentDeadlineHours": {
                    "type": "integer"
                }
            }
        },
        "settings.Value": {
            "type": "object",
            "properties": {
                "category": {
                    "type": "string"
                },
                "key": {
                    "type": "string"
                },
                "type": {
                    "type": "string"
                },
                "value": {},
                "is_sensitive": {
                    "type": "boolean"
                },
                "description": {
                    "type": "string"
                }
            }
        },
        "settings.Input": {
            "type": "object",
            "properties": {
                "category": {
                    "type": "string"
                },
                "key": {
                    "type": "string"
                },
                "type": {
                    "type": "string"
                },
                "value": {},
                "is_sensitive": {
                    "type": "boolean"
                },
                "is_active": {
                    "type": "boolean"
                },
                "description": {
                    "type": "string"
                }
            }
        },
        "cart.Cart": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "currency": {
                    "type": "string"
                },
                "items": {
                    "type": "array",
                    "items": {
                        "type": "object"
                    }
                },
                "subtotal": {
                    "type": "number"
                },
                "tax_total": {
                    "type": "number"
                },
                "total": {
                    "type": "number"
                },
                "updated_at": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "main.createCartRequest": {
            "type": "object",
            "properties": {
                "currency": {
                    "type": "string"
                }
            }
        },
        "main.addItemRequest": {
            "type": "object",
            "properties": {
                "product_id": {
                    "type": "string"
                },
                "quantity": {
                    "type": "integer"
                }
            }
        },
        "main.updateItemRequest": {
            "type": "object",
            "properties": {
                "quantity": {
                    "type": "integer"
                }
            }
        },
        "main.verifyPaymentRequest": {
            "type": "object",
            "properties": {
                "status": {
                    "type": "string",
                    "example": "completed"
                },
                "paymentProofUrl": {
                    "type": "string"
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Storefront Checkout API",
	Description:      "Carts, checkout, orders, payments and settings of the storefront.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
